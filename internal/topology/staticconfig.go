package topology

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StaticNode is one member as recorded in the static config.
type StaticNode struct {
	ID            int    `yaml:"id"`
	Name          string `yaml:"name"`
	BackIP        string `yaml:"backIp"`
	SSHIP         string `yaml:"sshIp"`
	AZName        string `yaml:"azName"`
	AZPriority    int    `yaml:"azPriority"`
	DataDir       string `yaml:"dataDir"`
	Port          int    `yaml:"port"`
	ReplPort      int    `yaml:"replPort"`
	HeartbeatPort int    `yaml:"heartbeatPort"`
	ServicePort   int    `yaml:"servicePort"`
	Role          Role   `yaml:"role"`
}

// StaticConfig is the membership file a node keeps in its bin directory.
// It names the node it belongs to and lists every member.
type StaticConfig struct {
	ClusterName string       `yaml:"clusterName"`
	LocalNodeID int          `yaml:"localNodeId"`
	LocalNode   string       `yaml:"localNode"`
	Nodes       []StaticNode `yaml:"nodes"`
}

// StaticConfigFor builds the static config of local within t.
// Every node keeps its plan id, so pruning a host never renumbers the others.
func StaticConfigFor(clusterName string, t *Topology, local Host) (StaticConfig, error) {
	cfg := StaticConfig{ClusterName: clusterName, LocalNode: local.Name}

	for _, h := range t.hosts {
		if h.Name == local.Name {
			cfg.LocalNodeID = h.ID
		}
		cfg.Nodes = append(cfg.Nodes, StaticNode{
			ID:            h.ID,
			Name:          h.Name,
			BackIP:        h.BackIP,
			SSHIP:         h.Address(),
			AZName:        h.AZName,
			AZPriority:    h.AZPriority,
			DataDir:       h.DataDir,
			Port:          h.Port,
			ReplPort:      h.ReplPort,
			HeartbeatPort: h.HeartbeatPort,
			ServicePort:   h.ServicePort,
			Role:          h.Role,
		})
	}

	if cfg.LocalNodeID == 0 {
		return StaticConfig{}, fmt.Errorf("node %s is not a cluster member", local.Name)
	}

	return cfg, nil
}

// Marshal encodes the static config.
func (c StaticConfig) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal static config: %w", err)
	}

	return out, nil
}
