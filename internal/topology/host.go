package topology

import (
	"errors"
	"fmt"
)

// Role is the role a host is expected to hold in the cluster.
type Role string

const (
	RolePrimary        Role = "primary"
	RoleStandby        Role = "standby"
	RoleCascadeStandby Role = "cascade_standby"
)

// Port offsets of the replication endpoints relative to the service port.
const (
	replPortOffset      = 1
	servicePortOffset   = 4
	heartbeatPortOffset = 5
)

// Host is one cluster member. ID is the persistent node id recorded in the
// static config; it defaults to the position of the host in the plan.
type Host struct {
	ID            int    `yaml:"id" validate:"gte=0"`
	Name          string `yaml:"name" validate:"required"`
	BackIP        string `yaml:"backIp" validate:"required,ip"`
	SSHIP         string `yaml:"sshIp" validate:"omitempty,ip"`
	AZName        string `yaml:"azName" validate:"required"`
	AZPriority    int    `yaml:"azPriority" validate:"gte=0"`
	DataDir       string `yaml:"dataDir" validate:"required,startswith=/"`
	Port          int    `yaml:"port" validate:"required,gt=0,lt=65536"`
	ReplPort      int    `yaml:"replPort" validate:"omitempty,gt=0,lt=65536"`
	HeartbeatPort int    `yaml:"heartbeatPort" validate:"omitempty,gt=0,lt=65536"`
	ServicePort   int    `yaml:"servicePort" validate:"omitempty,gt=0,lt=65536"`
	Role          Role   `yaml:"role" validate:"required,oneof=primary standby cascade_standby"`
}

// Address is the address used to reach the host over SSH.
func (h Host) Address() string {
	if h.SSHIP != "" {
		return h.SSHIP
	}

	return h.BackIP
}

// IsCascade reports whether the host is requested as a cascade standby.
func (h Host) IsCascade() bool {
	return h.Role == RoleCascadeStandby
}

func (h *Host) applyDefaults() {
	if h.SSHIP == "" {
		h.SSHIP = h.BackIP
	}
	if h.AZPriority == 0 {
		h.AZPriority = 1
	}
	if h.ReplPort == 0 {
		h.ReplPort = h.Port + replPortOffset
	}
	if h.ServicePort == 0 {
		h.ServicePort = h.Port + servicePortOffset
	}
	if h.HeartbeatPort == 0 {
		h.HeartbeatPort = h.Port + heartbeatPortOffset
	}
}

// Topology is the ordered cluster membership.
type Topology struct {
	hosts  []Host
	byName map[string]int
	byIP   map[string]int
}

// New builds a topology from hosts, keeping their order.
func New(hosts []Host) (*Topology, error) {
	t := &Topology{
		byName: make(map[string]int, len(hosts)),
		byIP:   make(map[string]int, len(hosts)),
	}
	ids := make(map[int]bool, len(hosts))

	for i, h := range hosts {
		h.applyDefaults()
		if h.ID == 0 {
			h.ID = i + 1
		}
		if ids[h.ID] {
			return nil, fmt.Errorf("duplicate node id %d", h.ID)
		}
		ids[h.ID] = true
		if _, dup := t.byName[h.Name]; dup {
			return nil, fmt.Errorf("duplicate host name %s", h.Name)
		}
		if _, dup := t.byIP[h.BackIP]; dup {
			return nil, fmt.Errorf("duplicate host address %s", h.BackIP)
		}
		t.byName[h.Name] = len(t.hosts)
		t.byIP[h.BackIP] = len(t.hosts)
		t.hosts = append(t.hosts, h)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	return t, nil
}

// Validate checks that exactly one host is the primary.
func (t *Topology) Validate() error {
	primaries := 0
	for _, h := range t.hosts {
		if h.Role == RolePrimary {
			primaries++
		}
	}

	switch {
	case primaries == 0:
		return errors.New("topology has no primary")
	case primaries > 1:
		return fmt.Errorf("topology has %d primaries, want exactly one", primaries)
	}

	return nil
}

// Hosts returns the hosts in order.
func (t *Topology) Hosts() []Host {
	return append([]Host(nil), t.hosts...)
}

// Primary returns the primary host.
func (t *Topology) Primary() Host {
	for _, h := range t.hosts {
		if h.Role == RolePrimary {
			return h
		}
	}

	return Host{}
}

// ByName looks a host up by name.
func (t *Topology) ByName(name string) (Host, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Host{}, false
	}

	return t.hosts[i], true
}

// ByIP looks a host up by back IP.
func (t *Topology) ByIP(ip string) (Host, bool) {
	i, ok := t.byIP[ip]
	if !ok {
		return Host{}, false
	}

	return t.hosts[i], true
}

// Without returns a copy of the topology minus the hosts drop selects.
// Kept hosts keep their ids. The primary invariant is not re-checked.
func (t *Topology) Without(drop func(Host) bool) *Topology {
	var kept []Host
	for _, h := range t.hosts {
		if !drop(h) {
			kept = append(kept, h)
		}
	}

	out := &Topology{
		byName: make(map[string]int, len(kept)),
		byIP:   make(map[string]int, len(kept)),
		hosts:  kept,
	}
	for i, h := range kept {
		out.byName[h.Name] = i
		out.byIP[h.BackIP] = i
	}

	return out
}
