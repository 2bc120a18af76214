package topology_test

import (
	"fmt"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gopkg.in/yaml.v3"

	"github.com/gauss-ops/gs-expansion/internal/topology"
	"github.com/gauss-ops/gs-expansion/internal/topology/topologytest"
)

var connInfoRe = regexp.MustCompile(
	`replconninfo(\d+)='localhost=(\S+) localport=(\d+) localheartbeatport=(\d+) localservice=(\d+) ` +
		`remotehost=(\S+) remoteport=(\d+) remoteheartbeatport=(\d+) remoteservice=(\d+)'`)

func threeNodes() *topology.Plan {
	return topologytest.Plan(
		topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RolePrimary},
		topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RoleStandby},
		topologytest.Node{Name: "node3", IP: "10.0.0.3", Role: topology.RoleCascadeStandby, New: true, AZ: "AZ2"},
	)
}

var _ = Describe("Plan", func() {
	It("applies derived ports and ssh address defaults", func() {
		p := threeNodes()
		h, ok := p.Topology().ByName("node2")
		Expect(ok).To(BeTrue())
		Expect(h.SSHIP).To(Equal("10.0.0.2"))
		Expect(h.ReplPort).To(Equal(15401))
		Expect(h.ServicePort).To(Equal(15404))
		Expect(h.HeartbeatPort).To(Equal(15405))
		Expect(h.AZPriority).To(Equal(1))
	})

	It("splits candidates from existing hosts", func() {
		p := threeNodes()
		Expect(p.Candidates()).To(HaveLen(1))
		Expect(p.Candidates()[0].Name).To(Equal("node3"))
		Expect(p.IsNew("10.0.0.2")).To(BeFalse())
		Expect(p.Topology().Primary().Name).To(Equal("node1"))
	})

	It("rejects a plan without a primary", func() {
		_, err := topology.ParsePlan([]byte(topologytest.YAML(
			topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RoleStandby},
			topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RoleStandby, New: true},
		)))
		Expect(err).To(MatchError(ContainSubstring("no primary")))
	})

	It("rejects two primaries", func() {
		_, err := topology.ParsePlan([]byte(topologytest.YAML(
			topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RolePrimary},
			topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RolePrimary},
		)))
		Expect(err).To(MatchError(ContainSubstring("2 primaries")))
	})

	It("rejects a new host that is not a node", func() {
		doc := topologytest.YAML(
			topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RolePrimary},
			topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RoleStandby},
		) + "newHosts:\n  - 10.0.0.9\n"
		_, err := topology.ParsePlan([]byte(doc))
		Expect(err).To(MatchError(ContainSubstring("not described")))
	})

	It("rejects an unknown role", func() {
		doc := strings.Replace(topologytest.YAML(
			topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RolePrimary},
			topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RoleStandby},
		), "role: standby", "role: witness", 1)
		_, err := topology.ParsePlan([]byte(doc))
		Expect(err).To(MatchError(ContainSubstring("validation error")))
	})

	It("narrows candidates with Retain without failing on empty", func() {
		p := threeNodes()
		p.Retain(nil)
		Expect(p.NewHosts).To(BeEmpty())
	})
})

var _ = Describe("ReplicationConfig", func() {
	It("generates n-1 entries per host and n(n-1) overall", func() {
		for n := 2; n <= 6; n++ {
			var nodes []topologytest.Node
			for i := 1; i <= n; i++ {
				role := topology.RoleStandby
				if i == 1 {
					role = topology.RolePrimary
				}
				nodes = append(nodes, topologytest.Node{Name: fmt.Sprintf("node%d", i), IP: fmt.Sprintf("10.0.1.%d", i), Role: role})
			}
			p := topologytest.Plan(nodes...)

			total := 0
			for _, script := range topology.ReplicationConfig(p.Topology(), nil) {
				matches := connInfoRe.FindAllStringSubmatch(script, -1)
				Expect(matches).To(HaveLen(n - 1))
				for i, m := range matches {
					Expect(m[1]).To(Equal(fmt.Sprint(i + 1)))
				}
				total += len(matches)
			}
			Expect(total).To(Equal(n * (n - 1)))
		}
	})

	It("is byte-identical when regenerated", func() {
		p := threeNodes()
		first := topology.ReplicationConfig(p.Topology(), p.NewHosts)
		for i := 0; i < 5; i++ {
			Expect(topology.ReplicationConfig(p.Topology(), p.NewHosts)).To(Equal(first))
		}
	})

	It("mirrors endpoints between every pair", func() {
		p := threeNodes()
		cfg := topology.ReplicationConfig(p.Topology(), nil)

		type endpoint struct{ host, port, hb, svc string }
		links := map[[2]string][2]endpoint{}
		for _, script := range cfg {
			for _, m := range connInfoRe.FindAllStringSubmatch(script, -1) {
				local := endpoint{m[2], m[3], m[4], m[5]}
				remote := endpoint{m[6], m[7], m[8], m[9]}
				links[[2]string{local.host, remote.host}] = [2]endpoint{local, remote}
			}
		}

		for key, ends := range links {
			back, ok := links[[2]string{key[1], key[0]}]
			Expect(ok).To(BeTrue(), "missing reverse link for %v", key)
			Expect(back[0]).To(Equal(ends[1]))
			Expect(back[1]).To(Equal(ends[0]))
		}
	})

	It("appends the availability zone only for new hosts", func() {
		p := threeNodes()
		cfg := topology.ReplicationConfig(p.Topology(), p.NewHosts)

		Expect(cfg["node3"]).To(HaveSuffix("gs_guc set -D /gauss/data/dn3 -c \"available_zone='AZ2'\"\n"))
		Expect(cfg["node1"]).NotTo(ContainSubstring("available_zone"))
		Expect(cfg["node2"]).NotTo(ContainSubstring("available_zone"))
	})

	It("renders the trust entry", func() {
		Expect(topology.TrustEntry("10.0.0.3")).To(Equal("host    all    all    10.0.0.3/32    trust"))
	})
})

func param(d topology.Descriptor, name string) (string, bool) {
	params := append([]topology.Param(nil), d.Cluster...)
	for _, dev := range d.Devices {
		params = append(params, dev.Params...)
	}
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}

	return "", false
}

var _ = Describe("Descriptor", func() {
	It("describes a single-instance install of the host", func() {
		p := threeNodes()
		h, _ := p.Topology().ByName("node3")
		d := topology.DescribeHost(p, h)

		for name, want := range map[string]string{
			"clusterName":     "dbCluster",
			"nodeNames":       "node3",
			"backIp1s":        "10.0.0.3",
			"gaussdbAppPath":  "/opt/gauss/app",
			"gaussdbLogPath":  "/var/log/gauss",
			"gaussdbToolPath": "/opt/gauss/tool",
			"corePath":        "/opt/gauss/corefile",
			"clusterType":     "single-inst",
			"name":            "node3",
			"azName":          "AZ2",
			"azPriority":      "1",
			"backIp1":         "10.0.0.3",
			"sshIp1":          "10.0.0.3",
			"dataNum":         "1",
			"dataPortBase":    "15400",
			"dataNode1":       "/gauss/data/dn3",
		} {
			got, ok := param(d, name)
			Expect(ok).To(BeTrue(), name)
			Expect(got).To(Equal(want), name)
		}

		_, ok := param(d, "tmpMppdbPath")
		Expect(ok).To(BeFalse())
	})

	It("renders xml params", func() {
		p := threeNodes()
		h, _ := p.Topology().ByName("node3")
		out, err := topology.DescribeHost(p, h).XML()
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(HavePrefix("<?xml"))
		Expect(out).To(ContainSubstring(`<PARAM name="dataNode1" value="/gauss/data/dn3"></PARAM>`))
		Expect(out).To(ContainSubstring(`<DEVICE sn="1000001">`))
	})
})

var _ = Describe("StaticConfig", func() {
	It("records the local node and every member", func() {
		p := threeNodes()
		h, _ := p.Topology().ByName("node2")
		cfg, err := topology.StaticConfigFor("dbCluster", p.Topology(), h)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.LocalNodeID).To(Equal(2))
		Expect(cfg.Nodes).To(HaveLen(3))

		out, err := cfg.Marshal()
		Expect(err).NotTo(HaveOccurred())

		var back topology.StaticConfig
		Expect(yaml.Unmarshal(out, &back)).To(Succeed())
		Expect(back.LocalNode).To(Equal("node2"))
	})

	It("keeps node ids when an earlier host is pruned", func() {
		p := topologytest.Plan(
			topologytest.Node{Name: "node1", IP: "10.0.0.1", Role: topology.RolePrimary},
			topologytest.Node{Name: "node2", IP: "10.0.0.2", Role: topology.RoleStandby},
			topologytest.Node{Name: "node3", IP: "10.0.0.3", Role: topology.RoleStandby, New: true},
			topologytest.Node{Name: "node4", IP: "10.0.0.4", Role: topology.RoleStandby, New: true},
		)
		pruned := p.Topology().Without(func(h topology.Host) bool { return h.Name == "node3" })
		h, _ := pruned.ByName("node4")

		cfg, err := topology.StaticConfigFor("dbCluster", pruned, h)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.LocalNodeID).To(Equal(4))

		ids := map[string]int{}
		for _, n := range cfg.Nodes {
			ids[n.Name] = n.ID
		}
		Expect(ids).To(Equal(map[string]int{"node1": 1, "node2": 2, "node4": 4}))
	})

	It("uses explicit ids and rejects duplicates", func() {
		hosts := []topology.Host{
			{ID: 7, Name: "node1", BackIP: "10.0.0.1", AZName: "AZ1", DataDir: "/d1", Port: 15400, Role: topology.RolePrimary},
			{Name: "node2", BackIP: "10.0.0.2", AZName: "AZ1", DataDir: "/d2", Port: 15400, Role: topology.RoleStandby},
		}
		t, err := topology.New(hosts)
		Expect(err).NotTo(HaveOccurred())
		h, _ := t.ByName("node1")
		Expect(h.ID).To(Equal(7))
		h, _ = t.ByName("node2")
		Expect(h.ID).To(Equal(2))

		hosts[1].ID = 7
		_, err = topology.New(hosts)
		Expect(err).To(MatchError(ContainSubstring("duplicate node id 7")))
	})

	It("refuses a node outside the topology", func() {
		p := threeNodes()
		pruned := p.Topology().Without(func(h topology.Host) bool { return h.Name == "node3" })
		h, _ := p.Topology().ByName("node3")
		_, err := topology.StaticConfigFor("dbCluster", pruned, h)
		Expect(err).To(HaveOccurred())
	})
})
