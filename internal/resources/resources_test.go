package resources_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/resources/fake"
)

var _ = Describe("Results", func() {
	results := resources.Results{
		"10.0.0.2": {Host: "10.0.0.2", Status: resources.StatusFailure, Output: "denied", Err: errors.New("exit status 1")},
		"10.0.0.1": {Host: "10.0.0.1", Status: resources.StatusSuccess, Output: "ok"},
		"10.0.0.3": {Host: "10.0.0.3", Status: resources.StatusFailure},
	}

	It("lists failed hosts in order", func() {
		Expect(results.Failed()).To(Equal([]string{"10.0.0.2", "10.0.0.3"}))
	})

	It("renders every host output", func() {
		Expect(results.Output()).To(HavePrefix("[SUCCESS] 10.0.0.1:\nok\n[FAILURE] 10.0.0.2:\ndenied\n"))
	})
})

var _ = Describe("SourceEnv", func() {
	It("sources the environment file first", func() {
		Expect(resources.SourceEnv("/home/omm/env", "gs_om -t status")).To(Equal("source /home/omm/env ; gs_om -t status"))
	})

	It("leaves the command alone without a file", func() {
		Expect(resources.SourceEnv("", "gs_om -t status")).To(Equal("gs_om -t status"))
	})
})

var _ = Describe("ReturnLogError", func() {
	It("keeps the message when the first argument is an error", func() {
		cause := errors.New("connection refused")

		err := resources.ReturnLogError("build node3: %w", cause)
		Expect(err).To(MatchError("build node3: connection refused"))
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})

var _ = Describe("local helpers", func() {
	It("writes files creating the parent dir", func() {
		p := filepath.Join(GinkgoT().TempDir(), "static", "cluster_static_config_node1")
		Expect(resources.WriteLocalFile(p, "nodes: []\n")).To(Succeed())

		info, err := os.Stat(p)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))
	})

	It("archives a tree relative to its root", func() {
		dir := GinkgoT().TempDir()
		Expect(os.MkdirAll(filepath.Join(dir, "script"), 0o755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "script", "gs_preinstall"), []byte("#!/bin/sh\n"), 0o755)).To(Succeed())

		var buf bytes.Buffer
		Expect(resources.WriteTar(&buf, dir)).To(Succeed())

		names := map[string][]byte{}
		tr := tar.NewReader(&buf)
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			data, err := io.ReadAll(tr)
			Expect(err).NotTo(HaveOccurred())
			names[hdr.Name] = data
		}

		Expect(names).To(HaveLen(2))
		Expect(names).To(HaveKey("script"))
		Expect(names).To(HaveKeyWithValue("script/gs_preinstall", []byte("#!/bin/sh\n")))
	})
})

var _ = Describe("remote helpers", func() {
	var exec *fake.Executor

	BeforeEach(func() {
		exec = fake.New()
	})

	It("creates and hands over a dir", func() {
		Expect(resources.EnsureRemoteDir(exec, "/tmp/gs_expansion_x", "omm:dbgrp", "10.0.0.3")).To(Succeed())
		Expect(exec.Commands("10.0.0.3")).To(Equal([]string{
			"mkdir -m a+x -p '/tmp/gs_expansion_x' && chown omm:dbgrp '/tmp/gs_expansion_x'",
		}))
	})

	It("rejects relative dirs", func() {
		Expect(resources.EnsureRemoteDir(exec, "tmp", "", "10.0.0.3")).NotTo(Succeed())
		Expect(exec.Calls()).To(BeEmpty())
	})

	It("names the hosts it could not reach", func() {
		exec.On("10.0.0.4", "mkdir", fake.Fail("read-only file system"))

		err := resources.EnsureRemoteDir(exec, "/opt/software", "", "10.0.0.3", "10.0.0.4")
		Expect(err).To(MatchError(ContainSubstring("[10.0.0.4]")))
		Expect(err).To(MatchError(ContainSubstring("read-only file system")))
	})

	It("checks files by exit status", func() {
		exec.On("10.0.0.2", "cluster_dynamic_config", fake.Fail(""))

		Expect(resources.RemoteFileExists(exec, "/opt/gauss/app/bin/cluster_dynamic_config", "10.0.0.1")).To(BeTrue())
		Expect(resources.RemoteFileExists(exec, "/opt/gauss/app/bin/cluster_dynamic_config", "10.0.0.2")).To(BeFalse())
	})

	It("refuses to remove the root dir", func() {
		Expect(resources.RemoveRemoteDir(exec, "/", "10.0.0.1")).NotTo(Succeed())
		Expect(exec.Calls()).To(BeEmpty())
	})
})
