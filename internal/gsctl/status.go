package gsctl

import (
	"regexp"
	"strings"
)

// Mode is the -M argument of gs_ctl start and build.
type Mode string

const (
	ModePrimary Mode = "primary"
	ModeStandby Mode = "standby"
	ModeNormal  Mode = "normal"
	ModeCascade Mode = "cascade_standby"
)

// Roles as printed in the local_role field of gs_ctl query.
const (
	RolePrimary = "primary"
	RoleStandby = "standby"
	RoleCascade = "cascade standby"
	RoleNormal  = "normal"
)

// StateNormal is the db_state of a healthy instance.
const StateNormal = "normal"

const noServerRunning = "no server running"

var (
	localRoleRe = regexp.MustCompile(`local_role.*: (.*?)\n`)
	dbStateRe   = regexp.MustCompile(`db_state.*: (.*?)\n`)
)

// Status is one reading of gs_ctl query on a host.
type Status struct {
	Role    string
	DBState string
	// Down is set when the query reported that no server is running.
	Down bool
}

// RuntimeState is the coarse lifecycle state derived from a Status.
type RuntimeState int

const (
	StateUnknown RuntimeState = iota
	StateStopped
	StateStartingStandby
	StateStandbyRunning
	StateBuilding
	StateNormalRunning
	StateFailed
)

func (s RuntimeState) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStartingStandby:
		return "StartingStandby"
	case StateStandbyRunning:
		return "StandbyRunning"
	case StateBuilding:
		return "Building"
	case StateNormalRunning:
		return "Normal"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ParseStatus extracts local_role and db_state from gs_ctl query output.
// Values are trimmed and lowercased; a missing label yields "".
func ParseStatus(output string) Status {
	// the patterns anchor on a line terminator
	if !strings.HasSuffix(output, "\n") {
		output += "\n"
	}

	s := Status{Down: strings.Contains(output, noServerRunning)}
	if m := localRoleRe.FindStringSubmatch(output); m != nil {
		s.Role = strings.ToLower(strings.TrimSpace(m[1]))
	}
	if m := dbStateRe.FindStringSubmatch(output); m != nil {
		s.DBState = strings.ToLower(strings.TrimSpace(m[1]))
	}

	return s
}

// IsStandby reports whether the instance answers as a standby.
func (s Status) IsStandby() bool {
	return s.Role == RoleStandby
}

// IsNormal reports whether db_state is normal.
func (s Status) IsNormal() bool {
	return s.DBState == StateNormal
}

// IsHealthyPrimary reports whether the instance is a primary in normal state.
func (s Status) IsHealthyPrimary() bool {
	return s.Role == RolePrimary && s.IsNormal()
}

// KnownRole reports whether the role is one an installed instance can hold.
func (s Status) KnownRole() bool {
	switch s.Role {
	case RolePrimary, RoleStandby, RoleNormal, RoleCascade:
		return true
	}

	return false
}

// State maps the reading onto a RuntimeState.
func (s Status) State() RuntimeState {
	switch {
	case s.Down:
		return StateStopped
	case s.DBState == StateNormal:
		return StateNormalRunning
	case strings.Contains(s.DBState, "building"), strings.Contains(s.DBState, "catchup"):
		return StateBuilding
	case strings.Contains(s.DBState, "starting"):
		return StateStartingStandby
	case strings.Contains(s.DBState, "fail"), s.DBState == "abnormal":
		return StateFailed
	case s.Role == RoleStandby || s.Role == RoleCascade:
		return StateStandbyRunning
	default:
		return StateUnknown
	}
}
