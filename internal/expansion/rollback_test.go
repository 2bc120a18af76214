package expansion_test

import (
	"os"
	"os/exec"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gauss-ops/gs-expansion/internal/expansion"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

const postgresqlConf = `port = 15400
replconninfo1 = 'localhost=10.0.0.1 localport=15401 remotehost=10.0.0.2 remoteport=15401'
replconninfo2 = 'localhost=10.0.0.1 localport=15401 remotehost=10.0.0.3 remoteport=15401'
replconninfo3 = 'localhost=10.0.0.1 localport=15401 remotehost=10.0.0.31 remoteport=15401'
`

const pgHbaConf = `host    all    all    10.0.0.2/32    trust
host    all    all    10.0.0.3/32    trust
host    all    all    10.0.0.31/32    trust
host    all    all    110.0.0.3/32    trust
`

var _ = Describe("RollbackCommands", func() {
	var (
		dir    string
		target topology.Host
		failed topology.Host
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		Expect(os.WriteFile(filepath.Join(dir, "postgresql.conf"), []byte(postgresqlConf), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "pg_hba.conf"), []byte(pgHbaConf), 0o600)).To(Succeed())

		target = topology.Host{Name: "node1", BackIP: "10.0.0.1", DataDir: dir}
		failed = topology.Host{Name: "node3", BackIP: "10.0.0.3"}
	})

	run := func(cmds []string) {
		for _, cmd := range cmds {
			out, err := exec.Command("bash", "-c", cmd).CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), string(out))
		}
	}

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		Expect(err).NotTo(HaveOccurred())

		return string(data)
	}

	It("comments out only the entries of the failed host on the primary", func() {
		cmds := expansion.RollbackCommands(target, failed, true)
		Expect(cmds).To(HaveLen(2))

		run(cmds)

		Expect(read("postgresql.conf")).To(Equal(`port = 15400
replconninfo1 = 'localhost=10.0.0.1 localport=15401 remotehost=10.0.0.2 remoteport=15401'
#replconninfo2 = 'localhost=10.0.0.1 localport=15401 remotehost=10.0.0.3 remoteport=15401'
replconninfo3 = 'localhost=10.0.0.1 localport=15401 remotehost=10.0.0.31 remoteport=15401'
`))
		Expect(read("pg_hba.conf")).To(Equal(`host    all    all    10.0.0.2/32    trust
#host    all    all    10.0.0.3/32    trust
host    all    all    10.0.0.31/32    trust
host    all    all    110.0.0.3/32    trust
`))
	})

	It("leaves the trust file of a standby untouched", func() {
		cmds := expansion.RollbackCommands(target, failed, false)
		Expect(cmds).To(HaveLen(1))

		run(cmds)

		Expect(read("postgresql.conf")).To(ContainSubstring("\n#replconninfo2"))
		Expect(read("pg_hba.conf")).To(Equal(pgHbaConf))
	})

	It("escapes dots so similar addresses do not match", func() {
		failed.BackIP = "10.0.0.2"
		run(expansion.RollbackCommands(target, failed, true))

		Expect(read("postgresql.conf")).To(ContainSubstring("\n#replconninfo1"))
		Expect(read("postgresql.conf")).NotTo(ContainSubstring("#replconninfo2"))
		Expect(read("pg_hba.conf")).To(HavePrefix("#host    all    all    10.0.0.2/32"))
	})

	It("matches the trust entry on whole addresses only", func() {
		failed.BackIP = "10.0.0.1"
		Expect(os.WriteFile(filepath.Join(dir, "pg_hba.conf"), []byte(
			"host    all    all    110.0.0.1/32    trust\n"+
				"host    all    all    10.0.0.1/32    trust\n"), 0o600)).To(Succeed())

		run(expansion.RollbackCommands(target, failed, true))

		Expect(read("pg_hba.conf")).To(Equal("host    all    all    110.0.0.1/32    trust\n" +
			"#host    all    all    10.0.0.1/32    trust\n"))
	})
})
