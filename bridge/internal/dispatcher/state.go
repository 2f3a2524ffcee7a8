package dispatcher

import (
	"fmt"

	"github.com/hazyhaar/sketchbridge/bridge/message"
)

// State is the dispatcher lifecycle state.
type State int

const (
	Uninitialized State = iota
	AwaitingAPI
	AwaitingData
	Ready
	Disposed
)

var stateNames = [...]string{"uninitialized", "awaiting_api", "awaiting_data", "ready", "disposed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BridgeState holds the readiness flags that gate outbound commands.
type BridgeState struct {
	APIReady    bool `json:"api_ready"`
	DataReady   bool `json:"data_ready"`
	BridgeReady bool `json:"bridge_ready"`
}

// Presentation is the presentation-option state echoed to the runtime.
type Presentation struct {
	Theme    string `json:"theme"`
	ReadOnly bool   `json:"read_only"`
	GridMode bool   `json:"grid_mode"`
	ZenMode  bool   `json:"zen_mode"`
}

func (p *Presentation) defaults() {
	if p.Theme == "" {
		p.Theme = message.ThemeLight
	}
}

// Status is a point-in-time view of a dispatcher.
type Status struct {
	State        State        `json:"state"`
	Bridge       BridgeState  `json:"bridge"`
	Presentation Presentation `json:"presentation"`
	Pending      int          `json:"pending_requests"`
	Debouncing   int          `json:"debouncing"`
	Version      string       `json:"scene_version,omitempty"`
	Dropped      uint64       `json:"dropped_envelopes"`
	Mismatched   uint64       `json:"mismatched_responses"`
}
