// Package expansion adds standby nodes to a running primary/standby cluster.
//
// A run has a privileged side and a database-user side. The privileged side
// checks the plan, distributes the software and runs gs_preinstall. The
// database-user side installs the new nodes, wires replication between every
// pair of members, drives each new node until it is a healthy replica, rolls
// back the nodes that never got there and finally publishes the membership
// file to every survivor.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gauss-ops/gs-expansion/internal/gsctl"
	"github.com/gauss-ops/gs-expansion/internal/installer"
	"github.com/gauss-ops/gs-expansion/internal/precheck"
	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

// ErrPrimaryLost is returned when the primary stops being a normal primary
// in the middle of an expansion.
var ErrPrimaryLost = errors.New("the primary is no longer a normal primary")

const (
	defaultMaxRetries = 3
	tmpDirLayout      = "2006-01-02_15_04_05_000000"
	descriptorName    = "clusterconfig.xml"
)

// PackageFetcher downloads a package from a remote source into dir.
type PackageFetcher interface {
	Download(ctx context.Context, source, dir string) (string, error)
}

// Prechecker gates the run before anything is changed.
type Prechecker interface {
	Run() error
}

// Options tune one run.
type Options struct {
	Plan *topology.Plan
	// Preinstalled means the new hosts already carry a running database.
	Preinstalled bool
	// Privileged is set when the run started as root.
	Privileged bool
	EnvFile    string
	TmpDir     string
	// StaticConfigDir is where membership files are generated before they are
	// sent. Defaults to <toolPath>/script/static_config_files.
	StaticConfigDir string

	MaxRetries         int
	SettleDelay        time.Duration
	PrimarySettleDelay time.Duration
	Clock              clock.Clock

	Fetcher  PackageFetcher
	Prompter installer.Prompter
	// Out receives installer output and the final report.
	Out io.Writer
}

// NewTmpDir returns the per-run temp dir for a run started at now.
func NewTmpDir(now time.Time) string {
	return filepath.Join(os.TempDir(), "gs_expansion_"+now.Format(tmpDirLayout))
}

// Orchestrator drives one expansion run.
type Orchestrator struct {
	opts   Options
	plan   *topology.Plan
	exec   resources.Executor
	ctl    *gsctl.Controller
	ledger *Ledger
	states map[string]NodeState

	// Checks defaults to the precheck suite of the plan.
	Checks Prechecker

	existing []topology.Host
	pool     []topology.Host
}

// New returns an orchestrator over exec for opts.Plan.
func New(exec resources.Executor, opts Options) *Orchestrator {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.TmpDir == "" {
		opts.TmpDir = NewTmpDir(opts.Clock.Now())
	}
	if opts.StaticConfigDir == "" {
		opts.StaticConfigDir = filepath.Join(opts.Plan.Cluster.ToolPath, "script", "static_config_files")
	}

	ctl := gsctl.New(exec, opts.EnvFile, opts.TmpDir, opts.Plan.User)

	o := &Orchestrator{
		opts:   opts,
		plan:   opts.Plan,
		exec:   exec,
		ctl:    ctl,
		ledger: NewLedger(),
		states: make(map[string]NodeState),
	}

	checkCtl := ctl
	if opts.Privileged {
		checkCtl = ctl.AsUser()
	}
	o.Checks = precheck.New(exec, checkCtl, opts.Plan, opts.Preinstalled)

	return o
}

// Ledger returns the outcome of every new host.
func (o *Orchestrator) Ledger() *Ledger {
	return o.ledger
}

// State returns the last recorded state of the named host.
func (o *Orchestrator) State(name string) NodeState {
	return o.states[name]
}

// TmpDir returns the per-run temp dir.
func (o *Orchestrator) TmpDir() string {
	return o.opts.TmpDir
}

func (o *Orchestrator) setState(h topology.Host, s NodeState) {
	if prev, ok := o.states[h.Name]; ok && prev == s {
		return
	}
	o.states[h.Name] = s
	resources.LogLevel("debug", "%s -> %s", h.Name, s)
}

func (o *Orchestrator) track() {
	names := make([]string, 0, len(o.plan.NewHosts))
	for _, h := range o.plan.Candidates() {
		names = append(names, h.Name)
		if _, ok := o.states[h.Name]; !ok {
			o.states[h.Name] = Pending
		}
	}
	o.ledger = NewLedger(names...)
}

// Expand runs the privileged side and then the database-user side through
// runner. The temp dir is removed locally and on every node on all paths.
func (o *Orchestrator) Expand(ctx context.Context, runner Runner) error {
	if err := o.prepareWorkspace(); err != nil {
		return err
	}
	defer o.cleanup()

	if err := o.Checks.Run(); err != nil {
		return err
	}
	o.track()

	if !o.opts.Preinstalled {
		if !o.opts.Privileged {
			return errors.New("distributing the database software requires root, " +
				"install the new hosts first and pass -L")
		}
		if err := o.Preinstall(ctx); err != nil {
			return err
		}
	}

	resources.LogLevel("info", "Start to install database and establish the primary-standby relationship.")

	return <-runner.Start(ctx)
}

// RunWorker is the database-user side: install, relationship building,
// rollback, static config publication and the final report.
func (o *Orchestrator) RunWorker(ctx context.Context) error {
	if len(o.ledger.Names()) == 0 {
		o.track()
	}

	if err := o.Install(); err != nil {
		return err
	}

	resources.LogLevel("info", "Start to establish the primary-standby relationship.")
	if err := o.BuildRelationships(ctx); err != nil {
		return err
	}

	o.Rollback()

	if err := o.PublishStaticConfig(); err != nil {
		return err
	}
	o.ledger.Report(o.opts.Out)
	resources.LogLevel("info", "Expansion Finish.")

	return nil
}

// Install puts the database on every new host, or accepts the pre-installed one.
func (o *Orchestrator) Install() error {
	candidates := o.plan.Candidates()

	if o.opts.Preinstalled {
		resources.LogLevel("info", "Standby nodes are installed with locale mode.")
	} else {
		resources.LogLevel("info", "Start to install database on the new standby nodes.")

		targets := make([]installer.Target, 0, len(candidates))
		for _, h := range candidates {
			targets = append(targets, installer.Target{
				Name:       h.Name,
				Address:    h.Address(),
				Descriptor: o.remoteDescriptor(),
			})
		}

		d := &installer.Driver{Exec: o.exec, Prompter: o.opts.Prompter, EnvFile: o.opts.EnvFile, Out: o.opts.Out}
		if err := d.Install(targets); err != nil {
			return err
		}
	}

	for _, h := range candidates {
		o.setState(h, Installed)
	}
	resources.LogLevel("info", "Database on standby nodes installed finished.")

	return nil
}

func (o *Orchestrator) remoteDescriptor() string {
	return filepath.Join(o.opts.TmpDir, descriptorName)
}

func (o *Orchestrator) prepareWorkspace() error {
	if err := os.MkdirAll(o.opts.TmpDir, 0o750); err != nil {
		return fmt.Errorf("create temp dir %s: %w", o.opts.TmpDir, err)
	}
	resources.LogLevel("debug", "tmp expansion dir is %s", o.opts.TmpDir)

	if !o.opts.Privileged {
		return nil
	}

	uid, gid, err := lookupIDs(o.plan.User)
	if err != nil {
		return err
	}

	return resources.ChownTree(o.opts.TmpDir, uid, gid)
}

func (o *Orchestrator) cleanup() {
	resources.LogLevel("debug", "start to delete temporary file %s", o.opts.TmpDir)

	if err := os.RemoveAll(o.opts.TmpDir); err != nil {
		resources.LogLevel("debug", "remove local temp dir: %v", err)
	}

	var hosts []string
	for _, h := range o.plan.Topology().Hosts() {
		hosts = append(hosts, h.Address())
	}
	if err := resources.RemoveRemoteDir(o.exec, o.opts.TmpDir, hosts...); err != nil {
		resources.LogLevel("debug", "remove remote temp dir: %v", err)
	}
}

func addresses(hosts []topology.Host) []string {
	out := make([]string, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, h.Address())
	}

	return out
}
