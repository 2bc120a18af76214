// Package gsctl wraps the database control tools. Each call formats one remote
// command, runs it through a resources.Executor and parses the text it prints.
package gsctl

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
	"github.com/gauss-ops/gs-expansion/pkg/logger"
)

// ErrMembershipUnavailable is returned when the cluster membership cannot be read.
var ErrMembershipUnavailable = errors.New("query cluster failed")

// Controller issues gs_ctl, gs_om and gs_guc commands.
type Controller struct {
	exec    resources.Executor
	envFile string
	tmpDir  string
	user    string
	su      bool
}

// New returns a controller that sources envFile before every command and
// stages generated scripts in tmpDir, locally and on the hosts.
func New(exec resources.Executor, envFile, tmpDir, user string) *Controller {
	return &Controller{exec: exec, envFile: envFile, tmpDir: tmpDir, user: user}
}

// AsUser returns a controller that switches to the database user on the
// remote side, for callers connected as root.
func (c *Controller) AsUser() *Controller {
	out := *c
	out.su = true

	return &out
}

func (c *Controller) wrap(cmd string) string {
	cmd = resources.SourceEnv(c.envFile, cmd)
	if !c.su {
		return cmd
	}

	return fmt.Sprintf("su - %s -c '%s'", c.user, strings.ReplaceAll(cmd, "'", `'\''`))
}

func (c *Controller) run(host, cmd string) resources.Result {
	res := c.exec.Run(c.wrap(cmd), host)[host]
	logger.ForHost(host).Debugf("%s\n%s", cmd, res.Output)

	return res
}

// QueryStatus reads role and db_state of the instance on h.
func (c *Controller) QueryStatus(h topology.Host) Status {
	res := c.run(h.Address(), fmt.Sprintf("gs_ctl query -D %s", h.DataDir))

	return ParseStatus(res.Output)
}

// Stop stops the instance on h.
func (c *Controller) Stop(h topology.Host) {
	c.run(h.Address(), fmt.Sprintf("gs_ctl stop -D %s", h.DataDir))
}

// StartWithMode starts the instance on h in mode.
func (c *Controller) StartWithMode(h topology.Host, mode Mode) {
	c.run(h.Address(), fmt.Sprintf("gs_ctl start -D %s -M %s", h.DataDir, mode))
}

// Build rebuilds the instance on h from its upstream in mode.
func (c *Controller) Build(h topology.Host, mode Mode) {
	c.run(h.Address(), fmt.Sprintf("gs_ctl build -D %s -M %s", h.DataDir, mode))
}

// Reload makes the instance on h re-read its configuration files.
func (c *Controller) Reload(h topology.Host) error {
	res := c.run(h.Address(), fmt.Sprintf("gs_ctl reload -D %s", h.DataDir))
	if !res.OK() {
		return fmt.Errorf("reload %s: %s", h.Name, strings.TrimSpace(res.Output))
	}

	return nil
}

// QueryClusterMembership returns the gs_om status detail as seen from h.
func (c *Controller) QueryClusterMembership(h topology.Host) (string, error) {
	res := c.run(h.Address(), "gs_om -t status --detail")
	if !res.OK() {
		return "", fmt.Errorf("%w on %s: check the cluster status or source "+
			"the environment variables of user [%s]: %s",
			ErrMembershipUnavailable, h.Name, c.user, strings.TrimSpace(res.Output))
	}

	return res.Output, nil
}

// SetGUC stages script as a shell file in the temp dir of h and runs it there.
func (c *Controller) SetGUC(h topology.Host, script string) error {
	path := filepath.Join(c.tmpDir, fmt.Sprintf("guc_%s.sh", h.Name))
	content := "#bash\n" + resources.SourceEnv(c.envFile, "\n"+script)

	if err := resources.WriteLocalFile(path, content); err != nil {
		return err
	}
	if err := c.exec.Copy(path, path, h.Address()); err != nil {
		return fmt.Errorf("send guc script to %s: %w", h.Name, err)
	}

	res := c.run(h.Address(), fmt.Sprintf("sh %s", path))
	if !res.OK() {
		return fmt.Errorf("set guc on %s: %s", h.Name, strings.TrimSpace(res.Output))
	}

	return nil
}

// AddTrust writes one trust entry per ip into the access-control file of h.
func (c *Controller) AddTrust(h topology.Host, ips ...string) error {
	if len(ips) == 0 {
		return nil
	}

	var cmds []string
	for _, ip := range ips {
		cmds = append(cmds, fmt.Sprintf("gs_guc set -D %s -h '%s'", h.DataDir, topology.TrustEntry(ip)))
	}

	res := c.run(h.Address(), strings.Join(cmds, " ; "))
	if !res.OK() {
		return fmt.Errorf("add trust on %s: %s", h.Name, strings.TrimSpace(res.Output))
	}

	return nil
}

// RefreshConf makes gs_om on host regenerate its dynamic configuration.
func (c *Controller) RefreshConf(host string) error {
	res := c.run(host, "gs_om -t refreshconf")
	if !res.OK() {
		return fmt.Errorf("refresh conf on %s: %s", host, strings.TrimSpace(res.Output))
	}

	return nil
}

// Version returns the gaussdb version reported by every host.
// A host that fails or prints no version is an error.
func (c *Controller) Version(hosts ...string) (map[string]string, error) {
	results := c.exec.Run(c.wrap("gaussdb --version"), hosts...)

	versions := make(map[string]string, len(hosts))
	for _, host := range hosts {
		res := results[host]
		v, ok := ParseVersion(res.Output)
		if !res.OK() || !ok {
			return nil, fmt.Errorf("get version on %s: %s", host, strings.TrimSpace(res.Output))
		}
		versions[host] = v
	}

	return versions, nil
}
