package expansion

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gauss-ops/gs-expansion/internal/resources"
	"github.com/gauss-ops/gs-expansion/internal/topology"
)

// sedPattern escapes s for use inside a sed address delimited by '/'.
func sedPattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `.`, `\.`, `/`, `\/`, `*`, `\*`, `[`, `\[`, `]`, `\]`, `^`, `\^`, `$`, `\$`)

	return r.Replace(s)
}

// commentOut returns the sed call that prefixes every line of file matching
// pattern with '#'.
func commentOut(pattern, file string) string {
	return fmt.Sprintf("sed -i '/%s/s/^/#&/' %s", pattern, file)
}

// RollbackCommands returns the commands that disable the replication entries
// of failed on target, and its trust entry when target is the primary.
func RollbackCommands(target, failed topology.Host, targetIsPrimary bool) []string {
	cmds := []string{
		commentOut("remotehost="+sedPattern(failed.BackIP)+" ", filepath.Join(target.DataDir, "postgresql.conf")),
	}
	if targetIsPrimary {
		hba := "[[:space:]]" + sedPattern(failed.BackIP+"/32") + "[[:space:]]"
		cmds = append(cmds, commentOut(hba, filepath.Join(target.DataDir, "pg_hba.conf")))
	}

	return cmds
}

// Rollback comments out the entries of every failed host on the existing
// members and the new hosts that succeeded, then reloads them. Skipped hosts
// are left alone. Errors are logged only.
func (o *Orchestrator) Rollback() {
	primary := o.plan.Topology().Primary()

	targets := append([]topology.Host(nil), o.existing...)
	for _, h := range o.plan.Candidates() {
		if o.ledger.Succeeded(h.Name) {
			targets = append(targets, h)
		}
	}

	for _, name := range o.ledger.Failed() {
		failed, ok := o.plan.Topology().ByName(name)
		if !ok {
			continue
		}
		resources.LogLevel("debug", "start to rollback replconninfo about %s", failed.Name)

		for _, target := range targets {
			for _, cmd := range RollbackCommands(target, failed, target.Name == primary.Name) {
				res := o.exec.Run(cmd, target.Address())[target.Address()]
				if !res.OK() {
					resources.LogLevel("warn", "rollback on %s: %s", target.Name, strings.TrimSpace(res.Output))
				}
			}
			if err := o.ctl.Reload(target); err != nil {
				resources.LogLevel("warn", "%v", err)
			}
		}
	}
}
