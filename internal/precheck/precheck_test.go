package precheck_test

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gauss-ops/gs-expansion/internal/gsctl"
	"github.com/gauss-ops/gs-expansion/internal/precheck"
	"github.com/gauss-ops/gs-expansion/internal/resources/fake"
	"github.com/gauss-ops/gs-expansion/internal/topology"
	"github.com/gauss-ops/gs-expansion/internal/topology/topologytest"
)

const membership = `[  Datanode State   ]

node   node_ip   instance   state
1  node1 10.0.0.1   6001 /gauss/data/dn1 P Primary Normal | 2  node2 10.0.0.2   6002 /gauss/data/dn2 S Standby Normal
`

const version = "gaussdb (openGauss 2.0.0 build 78689da9) compiled at 2021-03-31\n"

func plan() *topology.Plan {
	return topologytest.Plan(
		topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RolePrimary},
		topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RoleStandby, New: true},
		topologytest.Node{Name: "node3", IP: "10.0.0.3", Role: topology.RoleStandby, New: true},
	)
}

func localAccounts(gid string) (func(string) (*user.User, error), func(string) (*user.Group, error)) {
	uid := strconv.Itoa(os.Getuid())

	return func(name string) (*user.User, error) {
			if name != "omm" {
				return nil, user.UnknownUserError(name)
			}
			return &user.User{Username: name, Uid: uid, Gid: strconv.Itoa(os.Getgid())}, nil
		}, func(name string) (*user.Group, error) {
			if name != "dbgrp" {
				return nil, user.UnknownGroupError(name)
			}
			return &user.Group{Name: name, Gid: gid}, nil
		}
}

var _ = Describe("FilterDuplicates", func() {
	It("drops candidates already in the cluster", func() {
		p := plan()
		keep, existing := precheck.FilterDuplicates(p.Topology(), p.NewHosts, membership)
		Expect(keep).To(Equal([]string{"10.0.0.3"}))
		Expect(existing).To(Equal([]string{"10.0.0.2"}))
	})

	It("is idempotent", func() {
		p := plan()
		once, _ := precheck.FilterDuplicates(p.Topology(), p.NewHosts, membership)
		twice, existing := precheck.FilterDuplicates(p.Topology(), once, membership)
		Expect(twice).To(Equal(once))
		Expect(existing).To(BeEmpty())
	})
})

var _ = Describe("Checker", func() {
	var (
		exec    *fake.Executor
		p       *topology.Plan
		checker *precheck.Checker
	)

	BeforeEach(func() {
		exec = fake.New()
		p = plan()
		p.Path = filepath.Join(GinkgoT().TempDir(), "plan.yaml")
		Expect(os.WriteFile(p.Path, []byte("cluster: {}\n"), 0o600)).To(Succeed())

		ctl := gsctl.New(exec, "/etc/profile", GinkgoT().TempDir(), "omm")
		checker = precheck.New(exec, ctl, p, false)
		checker.LookupUser, checker.LookupGroup = localAccounts(strconv.Itoa(os.Getgid()))

		exec.On("", "id -gn omm", fake.OK("dbgrp\n"))
	})

	It("fails on an unhealthy cluster", func() {
		exec.On("10.0.0.1", "gs_om -t status", fake.OK("cluster_state : Degraded\n"))
		Expect(checker.Run()).To(MatchError(ContainSubstring("cluster status")))
	})

	It("fails fatally when the membership query errors", func() {
		exec.On("10.0.0.1", "gs_om -t status", fake.Fail("connection refused"))
		Expect(checker.Run()).To(MatchError(gsctl.ErrMembershipUnavailable))
	})

	It("reports nothing to do when every candidate is a member", func() {
		exec.On("10.0.0.1", "gs_om -t status", fake.OK(membership+
			"3  node3 10.0.0.3   6003 /gauss/data/dn3 S Standby Normal\n"))

		err := checker.Run()
		Expect(errors.Is(err, precheck.ErrNothingToExpand)).To(BeTrue())
		Expect(exec.Count("10.0.0.2", "id -gn")).To(BeZero())
	})

	It("passes and narrows the plan to new members", func() {
		exec.On("10.0.0.1", "gs_om -t status", fake.OK(membership))

		Expect(checker.Run()).To(Succeed())
		Expect(p.NewHosts).To(Equal([]string{"10.0.0.3"}))
		Expect(exec.Count("10.0.0.3", "id -gn omm")).To(Equal(1))
		Expect(exec.Count("10.0.0.3", "gaussdb --version")).To(BeZero())
	})

	It("fails when the user is in another group remotely", func() {
		exec = fake.New()
		checker.Exec = exec
		exec.On("", "id -gn omm", fake.OK("users\n"))

		Expect(checker.Identity()).To(MatchError(ContainSubstring("belongs to group users on 10.0.0.2")))
	})

	It("fails when the user is not linked to the group locally", func() {
		checker.LookupUser, checker.LookupGroup = localAccounts("4242")
		Expect(checker.Identity()).To(MatchError(ContainSubstring("does not belong to group dbgrp")))
	})

	It("fails when the user is unknown", func() {
		p.User = "nobody-here"
		Expect(checker.Identity()).To(MatchError(ContainSubstring("does not exist")))
	})

	Context("with pre-installed hosts", func() {
		BeforeEach(func() {
			checker.Preinstalled = true
		})

		running := func() {
			exec.On("", "gs_ctl query", fake.OK(" local_role : Normal\n db_state : Normal\n"))
		}

		It("accepts matching versions", func() {
			running()
			exec.On("", "gaussdb --version", fake.OK(version))
			Expect(checker.Versions()).To(Succeed())
		})

		It("reports the first host with another version", func() {
			running()
			exec.On("10.0.0.3", "gaussdb --version", fake.OK("gaussdb (openGauss 1.1.0 build 1) compiled\n"))
			exec.On("", "gaussdb --version", fake.OK(version))

			Expect(checker.Versions()).To(MatchError(And(
				ContainSubstring("10.0.0.3"),
				ContainSubstring("openGauss 1.1.0 build 1"),
			)))
		})

		It("rejects a host without a running instance", func() {
			exec.On("10.0.0.2", "gs_ctl query", fake.OK("gs_ctl: no server running\n"))
			running()
			Expect(checker.Versions()).To(MatchError(ContainSubstring("node2")))
		})
	})
})

var _ = Describe("EnsureReadable", func() {
	var path string

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "plan.yaml")
	})

	It("leaves a readable file alone", func() {
		Expect(os.WriteFile(path, nil, 0o640)).To(Succeed())

		healed, err := precheck.EnsureReadable(path, os.Getuid(), os.Getgid(), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(healed).To(BeFalse())

		fi, _ := os.Stat(path)
		Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0o640)))
	})

	It("hands an unreadable file to the user read-only", func() {
		Expect(os.WriteFile(path, nil, 0o200)).To(Succeed())

		healed, err := precheck.EnsureReadable(path, os.Getuid(), os.Getgid(), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(healed).To(BeTrue())

		fi, _ := os.Stat(path)
		Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0o400)))
	})

	It("accepts a file readable by everyone without re-owning it", func() {
		Expect(os.WriteFile(path, nil, 0o604)).To(Succeed())

		healed, err := precheck.EnsureReadable(path, os.Getuid()+4242, os.Getgid()+4242, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(healed).To(BeFalse())

		fi, _ := os.Stat(path)
		Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0o604)))
	})

	It("does not touch the file when running unprivileged", func() {
		Expect(os.WriteFile(path, nil, 0o200)).To(Succeed())

		healed, err := precheck.EnsureReadable(path, os.Getuid()+4242, os.Getgid()+4242, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(healed).To(BeFalse())

		fi, _ := os.Stat(path)
		Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0o200)))
	})

	It("fails on a missing file", func() {
		_, err := precheck.EnsureReadable(path, os.Getuid(), os.Getgid(), true)
		Expect(err).To(HaveOccurred())
	})
})
