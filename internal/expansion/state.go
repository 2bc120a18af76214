package expansion

// NodeState is the progress of one new host through the expansion.
type NodeState int

const (
	Pending NodeState = iota
	PreinstallDone
	Installed
	WaitingForAZPeer
	StandbyStarting
	StandbyRunning
	Building
	Normal
	Failed
)

var nodeStateNames = map[NodeState]string{
	Pending:          "Pending",
	PreinstallDone:   "PreinstallDone",
	Installed:        "Installed",
	WaitingForAZPeer: "WaitingForAZPeer",
	StandbyStarting:  "StandbyStarting",
	StandbyRunning:   "StandbyRunning",
	Building:         "Building",
	Normal:           "Normal",
	Failed:           "Failed",
}

func (s NodeState) String() string {
	if name, ok := nodeStateNames[s]; ok {
		return name
	}

	return "Unknown"
}
