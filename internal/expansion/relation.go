package expansion

import (
	"context"
	"errors"
	"fmt"

	"github.com/avast/retry-go"

	"github.com/gauss-ops/gs-expansion/internal/gsctl"
	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

const reasonNoAZPeer = "no AZ peer"

// BuildRelationships pushes the replication configuration to every affected
// member and drives the new hosts, plain standbys first, then cascades.
func (o *Orchestrator) BuildRelationships(ctx context.Context) error {
	primary := o.plan.Topology().Primary()

	if err := o.loadExisting(primary); err != nil {
		return err
	}

	if err := o.pushConfig(primary); err != nil {
		return err
	}

	resources.LogLevel("debug", "start to build standby node...")
	for _, h := range o.plan.Candidates() {
		if h.IsCascade() {
			continue
		}
		if err := o.buildStandby(ctx, h, primary); err != nil {
			return err
		}
	}

	for _, h := range o.plan.Candidates() {
		if !h.IsCascade() {
			continue
		}
		o.buildCascade(ctx, h, primary)
	}

	return nil
}

// loadExisting resolves the members listed by the primary. The standbys among
// them seed the pool of AZ peers.
func (o *Orchestrator) loadExisting(primary topology.Host) error {
	resources.LogLevel("debug", "Get the existing hosts.")

	membership, err := o.ctl.QueryClusterMembership(primary)
	if err != nil {
		return err
	}

	o.existing, o.pool = nil, nil
	for _, ip := range gsctl.MemberIPs(membership) {
		h, ok := o.plan.Topology().ByIP(ip)
		if !ok || o.plan.IsNew(ip) {
			resources.LogLevel("debug", "member %s is not an existing node of the plan", ip)
			continue
		}
		o.existing = append(o.existing, h)
		if h.Name != primary.Name {
			o.pool = append(o.pool, h)
		}
	}

	return nil
}

func (o *Orchestrator) pushConfig(primary topology.Host) error {
	cfg := topology.ReplicationConfig(o.plan.Topology(), o.plan.NewHosts)
	newIPs := o.plan.NewHosts

	targets := append([]topology.Host{primary}, o.pool...)
	targets = append(targets, o.plan.Candidates()...)
	if err := resources.EnsureRemoteDir(o.exec, o.opts.TmpDir, "", addresses(targets)...); err != nil {
		return err
	}

	resources.LogLevel("debug", "Start to set primary node GUC config.")
	if err := o.ctl.SetGUC(primary, cfg[primary.Name]); err != nil {
		return err
	}
	if err := o.ctl.AddTrust(primary, newIPs...); err != nil {
		return err
	}

	resources.LogLevel("debug", "Start to set standby node GUC config.")
	for _, h := range targets[1:] {
		if err := o.ctl.SetGUC(h, cfg[h.Name]); err != nil {
			resources.LogLevel("warn", "%v", err)
		}
	}

	resources.LogLevel("debug", "Start to set host trust on existing node.")
	for _, h := range o.pool {
		if err := o.ctl.AddTrust(h, newIPs...); err != nil {
			resources.LogLevel("warn", "%v", err)
		}
	}

	return nil
}

func (o *Orchestrator) buildStandby(ctx context.Context, h, primary topology.Host) error {
	resources.LogLevel("info", "Start to build standby %s.", h.Name)

	o.checkTmpDir(h)
	if !o.startAsStandby(ctx, h) {
		o.fail(h, "start as standby failed")
		return nil
	}

	o.trustOnPrimary(primary)
	o.opts.Clock.Sleep(o.opts.PrimarySettleDelay)

	status := o.ctl.QueryStatus(primary)
	if !status.IsHealthyPrimary() {
		return fmt.Errorf("%w: %s reports role %q state %q",
			ErrPrimaryLost, primary.Name, status.Role, status.DBState)
	}

	if !o.build(ctx, h, gsctl.ModeStandby, primary) {
		o.fail(h, "build failed")
		resources.LogLevel("info", "Build standby %s failed.", h.Name)
		return nil
	}

	o.succeed(h)
	o.pool = append(o.pool, h)
	resources.LogLevel("info", "Build standby %s success.", h.Name)

	return nil
}

func (o *Orchestrator) buildCascade(ctx context.Context, h, primary topology.Host) {
	resources.LogLevel("info", "Start to build cascade standby %s.", h.Name)

	o.setState(h, WaitingForAZPeer)
	if !o.hasAZPeer(h) {
		resources.LogLevel("info", "There is no Normal standby in %s", h.AZName)
		o.ledger.Skip(h.Name, reasonNoAZPeer)
		o.setState(h, Failed)
		return
	}

	o.checkTmpDir(h)
	if !o.startAsStandby(ctx, h) {
		o.fail(h, "start as standby failed")
		return
	}

	o.trustOnPrimary(primary)

	if !o.build(ctx, h, gsctl.ModeCascade, primary) {
		o.fail(h, "build failed")
		resources.LogLevel("info", "Build cascade standby %s failed.", h.Name)
		return
	}

	o.succeed(h)
	resources.LogLevel("info", "Build cascade standby %s success.", h.Name)
}

// hasAZPeer reports whether a standby of the pool in the AZ of h is normal now.
func (o *Orchestrator) hasAZPeer(h topology.Host) bool {
	for _, peer := range o.pool {
		if peer.AZName != h.AZName {
			continue
		}
		if o.ctl.QueryStatus(peer).IsNormal() {
			return true
		}
	}

	return false
}

var (
	errNotStandby  = errors.New("instance is not running as standby")
	errNotNormal   = errors.New("instance is not normal")
	errBuildFailed = errors.New("build reported failure")
)

// lastAttempt reports whether the retry callback n follows the final poll.
func (o *Orchestrator) lastAttempt(n uint) bool {
	return n+1 >= uint(o.opts.MaxRetries)
}

// startAsStandby restarts h in standby mode and polls until it answers as a
// standby, starting it again after every miss but the last.
func (o *Orchestrator) startAsStandby(ctx context.Context, h topology.Host) bool {
	o.setState(h, StandbyStarting)
	o.ctl.Stop(h)
	o.ctl.StartWithMode(h, gsctl.ModeStandby)

	err := retry.Do(
		func() error {
			status := o.ctl.QueryStatus(h)
			if status.IsStandby() {
				return nil
			}
			return fmt.Errorf("%w: state %s", errNotStandby, status.State())
		},
		retry.Attempts(uint(o.opts.MaxRetries)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			resources.LogLevel("debug", "Start %s as standby failed, retry for %d times: %v", h.Name, n+1, err)
			if o.lastAttempt(n) {
				return
			}
			o.ctl.StartWithMode(h, gsctl.ModeStandby)
		}),
	)
	if err != nil {
		resources.LogLevel("info", "Start database %s as standby mode failed!", h.Name)
		return false
	}
	o.setState(h, StandbyRunning)

	return true
}

// build issues a build of h in mode and polls for db_state normal, waiting the
// settle delay before every poll and building again after every miss but the
// last. Cascade builds re-push the trust entries to the primary first. A
// reading in the failed state ends the polling at once.
func (o *Orchestrator) build(ctx context.Context, h topology.Host, mode gsctl.Mode, primary topology.Host) bool {
	o.setState(h, Building)
	o.ctl.Build(h, mode)

	err := retry.Do(
		func() error {
			o.opts.Clock.Sleep(o.opts.SettleDelay)
			status := o.ctl.QueryStatus(h)
			switch state := status.State(); state {
			case gsctl.StateNormalRunning:
				return nil
			case gsctl.StateFailed:
				return retry.Unrecoverable(fmt.Errorf("%w: db_state %q", errBuildFailed, status.DBState))
			default:
				return fmt.Errorf("%w: state %s db_state %q", errNotNormal, state, status.DBState)
			}
		},
		retry.Attempts(uint(o.opts.MaxRetries)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			resources.LogLevel("debug", "Build %s failed, retry for %d times: %v", h.Name, n+1, err)
			if o.lastAttempt(n) {
				return
			}
			if mode == gsctl.ModeCascade {
				o.trustOnPrimary(primary)
			}
			o.ctl.Build(h, mode)
		}),
	)
	if err != nil {
		resources.LogLevel("debug", "Build %s gave up: %v", h.Name, err)
	}

	return err == nil
}

func (o *Orchestrator) trustOnPrimary(primary topology.Host) {
	if err := o.ctl.AddTrust(primary, o.plan.NewHosts...); err != nil {
		resources.LogLevel("warn", "%v", err)
	}
	if err := o.ctl.Reload(primary); err != nil {
		resources.LogLevel("warn", "%v", err)
	}
}

// checkTmpDir recreates the database temp path of h when it is missing.
func (o *Orchestrator) checkTmpDir(h topology.Host) {
	dir := o.plan.Cluster.TmpPath
	if dir == "" || resources.RemoteDirExists(o.exec, dir, h.Address()) {
		return
	}

	resources.LogLevel("debug", "Node [%s] does not have tmp dir, creating %s", h.Name, dir)
	res := o.exec.Run(fmt.Sprintf("mkdir -p '%s'", dir), h.Address())
	if !res[h.Address()].OK() {
		resources.LogLevel("warn", "create %s on %s: %s", dir, h.Name, res[h.Address()].Output)
	}
}

func (o *Orchestrator) fail(h topology.Host, reason string) {
	o.ledger.Fail(h.Name, reason)
	o.setState(h, Failed)
}

func (o *Orchestrator) succeed(h topology.Host) {
	o.ledger.Succeed(h.Name)
	o.setState(h, Normal)
}
