// Package precheck holds the checks that gate an expansion. They run once,
// before anything on the cluster is changed, and the first failure stops the run.
package precheck

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/gauss-ops/gs-expansion/internal/gsctl"
	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

// ErrNothingToExpand means every candidate is already a cluster member.
var ErrNothingToExpand = errors.New("there is no node can be expanded")

// Checker runs the pre-flight checks of one plan.
type Checker struct {
	Exec resources.Executor
	Ctl  *gsctl.Controller
	Plan *topology.Plan
	// Preinstalled runs the role and version checks of hosts that already
	// carry the database.
	Preinstalled bool
	// Privileged allows the plan file to be re-owned when the user cannot read it.
	Privileged bool

	LookupUser  func(name string) (*user.User, error)
	LookupGroup func(name string) (*user.Group, error)
}

// New returns a checker that resolves accounts through os/user.
func New(exec resources.Executor, ctl *gsctl.Controller, plan *topology.Plan, preinstalled bool) *Checker {
	return &Checker{
		Exec:         exec,
		Ctl:          ctl,
		Plan:         plan,
		Preinstalled: preinstalled,
		Privileged:   os.Geteuid() == 0,
		LookupUser:   user.Lookup,
		LookupGroup:  user.LookupGroup,
	}
}

// Run executes every check in order.
func (c *Checker) Run() error {
	membership, err := c.Ctl.QueryClusterMembership(c.Plan.Topology().Primary())
	if err != nil {
		return err
	}

	if err = ClusterHealthy(membership); err != nil {
		return err
	}
	resources.LogLevel("debug", "The primary database is normal.")

	if err = c.Duplicates(membership); err != nil {
		return err
	}

	if err = c.Identity(); err != nil {
		return err
	}

	if c.Preinstalled {
		if err = c.Versions(); err != nil {
			return err
		}
	}

	uid, gid, err := c.accountIDs()
	if err != nil {
		return err
	}
	healed, err := EnsureReadable(c.Plan.Path, uid, gid, c.Privileged)
	if err != nil {
		return err
	}
	if healed {
		resources.LogLevel("debug", "User %s had no access right for file %s, fixed", c.Plan.User, c.Plan.Path)
	}

	return nil
}

// ClusterHealthy fails unless the membership text shows a normal primary.
func ClusterHealthy(membership string) error {
	if !gsctl.Healthy(membership) {
		return errors.New("unable to query current cluster status: import the environment " +
			"variables or check whether the cluster status is normal")
	}

	return nil
}

// FilterDuplicates splits candidates into the hosts still to expand and the
// hosts whose name and address already appear in membership.
func FilterDuplicates(t *topology.Topology, candidates []string, membership string) (keep, existing []string) {
	for _, ip := range candidates {
		h, ok := t.ByIP(ip)
		if ok && gsctl.HasMember(membership, h.Name, ip) {
			existing = append(existing, ip)
			continue
		}
		keep = append(keep, ip)
	}

	return keep, existing
}

// Duplicates drops candidates that are already members.
func (c *Checker) Duplicates(membership string) error {
	keep, existing := FilterDuplicates(c.Plan.Topology(), c.Plan.NewHosts, membership)
	if len(existing) > 0 {
		resources.LogLevel("info", "The nodes [%s] are already in the cluster. Skip expand these nodes.",
			strings.Join(existing, ","))
	}

	c.Plan.Retain(keep)
	if len(c.Plan.NewHosts) == 0 {
		return ErrNothingToExpand
	}

	return nil
}

func (c *Checker) accountIDs() (uid, gid int, err error) {
	u, err := c.LookupUser(c.Plan.User)
	if err != nil {
		return 0, 0, fmt.Errorf("user %s does not exist on the local host: %w", c.Plan.User, err)
	}

	uid, err = strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("uid of %s: %w", u.Username, err)
	}
	gid, err = strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("gid of %s: %w", u.Username, err)
	}

	return uid, gid, nil
}

// Identity checks that the user and group exist and are linked, locally and
// on every candidate.
func (c *Checker) Identity() error {
	u, err := c.LookupUser(c.Plan.User)
	if err != nil {
		return fmt.Errorf("user %s does not exist on the local host: %w", c.Plan.User, err)
	}
	g, err := c.LookupGroup(c.Plan.Group)
	if err != nil {
		return fmt.Errorf("group %s does not exist on the local host: %w", c.Plan.Group, err)
	}
	if u.Gid != g.Gid {
		return fmt.Errorf("user %s does not belong to group %s on the local host", c.Plan.User, c.Plan.Group)
	}

	hosts := addresses(c.Plan.Candidates())
	results := c.Exec.Run(fmt.Sprintf("id -gn %s", c.Plan.User), hosts...)
	for _, host := range hosts {
		res := results[host]
		if !res.OK() {
			return fmt.Errorf("user %s does not exist on %s: %s", c.Plan.User, host, strings.TrimSpace(res.Output))
		}
		if got := strings.TrimSpace(res.Output); got != c.Plan.Group {
			return fmt.Errorf("user %s belongs to group %s on %s, want %s", c.Plan.User, got, host, c.Plan.Group)
		}
	}

	return nil
}

// Versions checks that every candidate runs an installed instance and the same
// gaussdb version as the primary.
func (c *Checker) Versions() error {
	resources.LogLevel("info", "Checking the database with locale mode.")

	candidates := c.Plan.Candidates()
	for _, h := range candidates {
		s := c.Ctl.QueryStatus(h)
		if !s.KnownRole() {
			return fmt.Errorf("the database on %s is not installed or not running: "+
				"check %s as user %s", h.Name, h.DataDir, c.Plan.User)
		}
	}

	primary := c.Plan.Topology().Primary()
	hosts := append([]string{primary.Address()}, addresses(candidates)...)
	versions, err := c.Ctl.Version(hosts...)
	if err != nil {
		return err
	}

	want := versions[primary.Address()]
	for _, host := range hosts[1:] {
		if versions[host] != want {
			return fmt.Errorf("the version of %s is %q, which differs from the cluster version %q",
				host, versions[host], want)
		}
	}
	resources.LogLevel("info", "Successfully checked the database with locale mode.")

	return nil
}

// EnsureReadable makes path readable by uid:gid. When none of the owner, group
// or other bits allow it, a privileged caller hands the file to uid:gid with
// mode 0400. An unprivileged caller runs as the user and has read the file
// already, so nothing is changed.
func EnsureReadable(path string, uid, gid int, privileged bool) (healed bool, err error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("stat %s: unsupported platform", path)
	}

	mode := fi.Mode().Perm()
	switch {
	case int(st.Uid) == uid && mode&0o400 != 0,
		int(st.Gid) == gid && mode&0o040 != 0,
		mode&0o004 != 0:
		return false, nil
	case !privileged:
		return false, nil
	}

	if err = os.Chown(path, uid, gid); err != nil {
		return false, fmt.Errorf("chown %s: %w", path, err)
	}
	if err = os.Chmod(path, 0o400); err != nil {
		return false, fmt.Errorf("chmod %s: %w", path, err)
	}

	return true, nil
}

func addresses(hosts []topology.Host) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Address())
	}

	return out
}
