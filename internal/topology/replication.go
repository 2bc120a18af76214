package topology

import (
	"fmt"
	"strings"
)

// ReplicationEntry is one directed replication link from Local to Remote.
type ReplicationEntry struct {
	Index  int
	Local  Host
	Remote Host
}

// ConnInfo renders the replconninfo value of the entry.
func (e ReplicationEntry) ConnInfo() string {
	return fmt.Sprintf(
		"localhost=%s localport=%d localheartbeatport=%d localservice=%d "+
			"remotehost=%s remoteport=%d remoteheartbeatport=%d remoteservice=%d",
		e.Local.BackIP, e.Local.ReplPort, e.Local.HeartbeatPort, e.Local.ServicePort,
		e.Remote.BackIP, e.Remote.ReplPort, e.Remote.HeartbeatPort, e.Remote.ServicePort,
	)
}

// Command renders the gs_guc call that sets the entry on the local host.
func (e ReplicationEntry) Command() string {
	return fmt.Sprintf("gs_guc set -D %s -c \"replconninfo%d='%s'\"", e.Local.DataDir, e.Index, e.ConnInfo())
}

// Entries returns the replication entries of h, one per other host, indexed
// from 1 in topology order.
func (t *Topology) Entries(h Host) []ReplicationEntry {
	entries := make([]ReplicationEntry, 0, len(t.hosts)-1)
	index := 1
	for _, remote := range t.hosts {
		if remote.Name == h.Name {
			continue
		}
		entries = append(entries, ReplicationEntry{Index: index, Local: h, Remote: remote})
		index++
	}

	return entries
}

// ReplicationConfig returns, for every host, the gs_guc script that writes its
// replication entries. Hosts whose back IP is in newHosts also get their
// availability zone set after the entries. Output is deterministic.
func ReplicationConfig(t *Topology, newHosts []string) map[string]string {
	isNew := make(map[string]bool, len(newHosts))
	for _, ip := range newHosts {
		isNew[ip] = true
	}

	cfg := make(map[string]string, len(t.hosts))
	for _, h := range t.hosts {
		var b strings.Builder
		for _, e := range t.Entries(h) {
			b.WriteString(e.Command())
			b.WriteString("\n")
		}
		if isNew[h.BackIP] {
			fmt.Fprintf(&b, "gs_guc set -D %s -c \"available_zone='%s'\"\n", h.DataDir, h.AZName)
		}
		cfg[h.Name] = b.String()
	}

	return cfg
}

// TrustEntry is the access-control line that lets ip connect for replication.
func TrustEntry(ip string) string {
	return fmt.Sprintf("host    all    all    %s/32    trust", ip)
}
