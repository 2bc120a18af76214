package topology

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// ClusterConfig holds the cluster wide install paths.
type ClusterConfig struct {
	Name        string `yaml:"name" validate:"required"`
	AppPath     string `yaml:"appPath" validate:"required,startswith=/"`
	LogPath     string `yaml:"logPath" validate:"required,startswith=/"`
	ToolPath    string `yaml:"toolPath" validate:"required,startswith=/"`
	CorePath    string `yaml:"corePath" validate:"required,startswith=/"`
	TmpPath     string `yaml:"tmpPath" validate:"omitempty,startswith=/"`
	PackagePath string `yaml:"packagePath" validate:"required,startswith=/"`
	// PackageSource is an optional s3://bucket/key the package is fetched from.
	PackageSource string `yaml:"packageSource" validate:"omitempty,startswith=s3://"`
}

// Plan is the expansion-plan descriptor.
type Plan struct {
	Cluster  ClusterConfig `yaml:"cluster" validate:"required"`
	User     string        `yaml:"user" validate:"required"`
	Group    string        `yaml:"group" validate:"required"`
	Nodes    []Host        `yaml:"nodes" validate:"required,min=2,dive"`
	NewHosts []string      `yaml:"newHosts" validate:"dive,ip"`

	// Path is the file the plan was read from.
	Path string `yaml:"-"`

	topo *Topology
}

// LoadPlan reads and validates the plan at path.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}

	p, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	p.Path = path

	return p, nil
}

// ParsePlan decodes and validates a YAML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	topo, err := New(p.Nodes)
	if err != nil {
		return nil, err
	}
	p.topo = topo

	if len(p.NewHosts) > 0 {
		if err := p.SetNewHosts(p.NewHosts); err != nil {
			return nil, err
		}
	}

	return &p, nil
}

// SetNewHosts replaces the candidate hosts, checking each is a non-primary node.
func (p *Plan) SetNewHosts(ips []string) error {
	seen := make(map[string]bool, len(ips))
	var hosts []string

	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip == "" || seen[ip] {
			continue
		}
		seen[ip] = true

		h, ok := p.topo.ByIP(ip)
		if !ok {
			return fmt.Errorf("new host %s is not described in nodes", ip)
		}
		if h.Role == RolePrimary {
			return fmt.Errorf("new host %s (%s) cannot be the primary", h.Name, ip)
		}
		hosts = append(hosts, ip)
	}

	if len(hosts) == 0 {
		return errors.New("no new hosts to expand")
	}
	p.NewHosts = hosts

	return nil
}

// Retain narrows the candidates to those listed in ips, keeping plan order.
// Unlike SetNewHosts it may leave the plan with no candidates.
func (p *Plan) Retain(ips []string) {
	keep := make(map[string]bool, len(ips))
	for _, ip := range ips {
		keep[ip] = true
	}

	var hosts []string
	for _, ip := range p.NewHosts {
		if keep[ip] {
			hosts = append(hosts, ip)
		}
	}
	p.NewHosts = hosts
}

// Topology returns the full cluster topology, existing and new hosts.
func (p *Plan) Topology() *Topology {
	return p.topo
}

// IsNew reports whether the host with back IP ip is a candidate.
func (p *Plan) IsNew(ip string) bool {
	for _, h := range p.NewHosts {
		if h == ip {
			return true
		}
	}

	return false
}

// Candidates returns the candidate hosts in plan order.
func (p *Plan) Candidates() []Host {
	out := make([]Host, 0, len(p.NewHosts))
	for _, ip := range p.NewHosts {
		if h, ok := p.topo.ByIP(ip); ok {
			out = append(out, h)
		}
	}

	return out
}
