package schemas

import "time"

// -- Lifecycle State Models --

// ProfileState is the lifecycle status of one profile's monitoring loop.
type ProfileState string

const (
	StateIdle              ProfileState = "IDLE"
	StateMonitoring        ProfileState = "MONITORING"
	StateSessionRefreshing ProfileState = "SESSION_REFRESHING"
	StateQueueRedirect     ProfileState = "QUEUE_REDIRECT"
	StatePurchasing        ProfileState = "PURCHASING"
	StateSuccess           ProfileState = "SUCCESS"
	StateKeywordMissing    ProfileState = "KEYWORD_MISSING"
	StateBlocked           ProfileState = "BLOCKED"
	StateError             ProfileState = "ERROR"
)

// Terminal reports whether the state ends the loop. A terminal state is never
// left; the profile must be restarted externally with a fresh session.
func (s ProfileState) Terminal() bool {
	switch s {
	case StateSuccess, StateKeywordMissing, StateBlocked, StateError:
		return true
	}
	return false
}

// RunState is the externally visible snapshot of one profile's loop. The loop
// is the sole writer; the registry hands out copies, never the live struct.
type RunState struct {
	ProfileID    string       `json:"profile_id"`
	State        ProfileState `json:"state"`
	Iteration    int          `json:"iteration"`
	LastActivity time.Time    `json:"last_activity"`
	LastError    string       `json:"last_error,omitempty"`
}
