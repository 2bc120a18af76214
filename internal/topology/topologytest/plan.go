// Package topologytest builds plans for tests.
package topologytest

import (
	"fmt"
	"strings"

	"github.com/gauss-ops/gs-expansion/internal/topology"
)

// Node is a compact description of one plan node.
type Node struct {
	Name string
	IP   string
	AZ   string
	Role topology.Role
	New  bool
}

// Plan renders nodes into a YAML plan and parses it.
// It panics on invalid input so fixtures fail loudly.
func Plan(nodes ...Node) *topology.Plan {
	p, err := topology.ParsePlan([]byte(YAML(nodes...)))
	if err != nil {
		panic(err)
	}

	return p
}

// YAML renders nodes into a plan document.
func YAML(nodes ...Node) string {
	var b strings.Builder
	b.WriteString(`cluster:
  name: dbCluster
  appPath: /opt/gauss/app
  logPath: /var/log/gauss
  toolPath: /opt/gauss/tool
  corePath: /opt/gauss/corefile
  packagePath: /opt/software/gauss
user: omm
group: dbgrp
nodes:
`)

	var newHosts []string
	for i, n := range nodes {
		az := n.AZ
		if az == "" {
			az = "AZ1"
		}
		fmt.Fprintf(&b, `  - name: %s
    backIp: %s
    azName: %s
    dataDir: /gauss/data/dn%d
    port: 15400
    role: %s
`, n.Name, n.IP, az, i+1, n.Role)
		if n.New {
			newHosts = append(newHosts, n.IP)
		}
	}

	if len(newHosts) > 0 {
		b.WriteString("newHosts:\n")
		for _, ip := range newHosts {
			fmt.Fprintf(&b, "  - %s\n", ip)
		}
	}

	return b.String()
}
