package schemas_test

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	// Third party libraries for expressive and robust assertions.
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Import the package we are testing.
	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
)

// -- Test Helpers --

// getTestTime provides a fixed, reproducible timestamp for consistent test results.
func getTestTime(t *testing.T) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, "2026-03-14T10:00:00.123456789Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

// -- Test Cases --

// TestConstants verifies that all defined constants hold their expected string values.
// These values cross the process boundary (status sink consumers, config files), so
// accidental changes break external contracts.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		// Profile lifecycle states
		{"StateIdle", schemas.StateIdle, "IDLE"},
		{"StateMonitoring", schemas.StateMonitoring, "MONITORING"},
		{"StateSessionRefreshing", schemas.StateSessionRefreshing, "SESSION_REFRESHING"},
		{"StateQueueRedirect", schemas.StateQueueRedirect, "QUEUE_REDIRECT"},
		{"StatePurchasing", schemas.StatePurchasing, "PURCHASING"},
		{"StateSuccess", schemas.StateSuccess, "SUCCESS"},
		{"StateKeywordMissing", schemas.StateKeywordMissing, "KEYWORD_MISSING"},
		{"StateBlocked", schemas.StateBlocked, "BLOCKED"},
		{"StateError", schemas.StateError, "ERROR"},

		// Event types
		{"EventStateTransition", schemas.EventStateTransition, "STATE_TRANSITION"},
		{"EventTicketFall", schemas.EventTicketFall, "TICKET_FALL"},
		{"EventPurchaseSuccess", schemas.EventPurchaseSuccess, "PURCHASE_SUCCESS"},

		// Proxy modes
		{"ProxyModeNone", schemas.ProxyModeNone, "NONE"},
		{"ProxyModeOpen", schemas.ProxyModeOpen, "OPEN"},
		{"ProxyModeAuthenticated", schemas.ProxyModeAuthenticated, "AUTHENTICATED"},

		// Speed tiers
		{"SpeedFast", schemas.SpeedFast, "fast"},
		{"SpeedNormal", schemas.SpeedNormal, "normal"},
		{"SpeedSlow", schemas.SpeedSlow, "slow"},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var actual string
			if stringer, ok := tt.constant.(fmt.Stringer); ok {
				actual = stringer.String()
			} else {
				actual = fmt.Sprintf("%v", tt.constant)
			}
			assert.Equal(t, tt.expected, actual)
		})
	}
}

// TestTerminalStates pins down which lifecycle states end a loop. A state
// wrongly marked terminal silently kills monitoring; the reverse hot-loops a
// dead profile.
func TestTerminalStates(t *testing.T) {
	t.Parallel()
	terminal := []schemas.ProfileState{
		schemas.StateSuccess,
		schemas.StateKeywordMissing,
		schemas.StateBlocked,
		schemas.StateError,
	}
	nonTerminal := []schemas.ProfileState{
		schemas.StateIdle,
		schemas.StateMonitoring,
		schemas.StateSessionRefreshing,
		schemas.StateQueueRedirect,
		schemas.StatePurchasing,
	}

	for _, s := range terminal {
		assert.True(t, s.Terminal(), "state %s should be terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.Terminal(), "state %s should not be terminal", s)
	}
}

// TestStructJSONTags uses reflection to verify that the `json` tags on struct fields
// are correct. This is critical for ensuring API contract stability.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "ProfileConfig",
			structRef: schemas.ProfileConfig{},
			expectedTags: map[string]string{
				"ProfileID":      "profile_id",
				"TargetURL":      "target_url",
				"EventID":        "event_id",
				"RequestedSeats": "requested_seats",
				"AreaFilter":     "area_filter",
				"AccessKeyword":  "access_keyword",
				"PollSpeedTier":  "poll_speed_tier",
				"Proxy":          "proxy",
				"Persona":        "persona",
				"DebuggerURL":    "debugger_url",
			},
		},
		{
			name:      "StatusEvent",
			structRef: schemas.StatusEvent{},
			expectedTags: map[string]string{
				"ID":        "id",
				"ProfileID": "profile_id",
				"Type":      "type",
				"State":     "state",
				"Message":   "message",
				"Payload":   "payload",
				"Timestamp": "timestamp",
			},
		},
		{
			name:      "RunState",
			structRef: schemas.RunState{},
			expectedTags: map[string]string{
				"ProfileID":    "profile_id",
				"State":        "state",
				"Iteration":    "iteration",
				"LastActivity": "last_activity",
				"LastError":    "last_error",
			},
		},
		{
			name:      "ProxyConfig",
			structRef: schemas.ProxyConfig{},
			expectedTags: map[string]string{
				"Mode":     "mode",
				"Host":     "host",
				"Port":     "port",
				"Username": "username",
				"Password": "password",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			for fieldName, expectedTag := range tt.expectedTags {
				field, found := structType.FieldByName(fieldName)
				require.True(t, found, "Field '%s' not found in struct '%s'.", fieldName, tt.name)
				actualTag := field.Tag.Get("json")
				assert.Contains(t, actualTag, expectedTag, "JSON tag mismatch for field '%s.%s'", tt.name, fieldName)
			}
		})
	}
}

// TestSerializationCycle performs a round trip test (marshal to JSON and unmarshal back)
// on the event envelope the status sink transports.
func TestSerializationCycle(t *testing.T) {
	t.Parallel()
	timestamp := getTestTime(t)

	// NOTE: json unmarshals numbers inside interface{} maps as float64, so the
	// original payload must use float64 for reflect.DeepEqual to hold.
	event := schemas.StatusEvent{
		ID:        "event-001",
		ProfileID: "profile-17",
		Type:      schemas.EventTicketFall,
		Message:   "ticket fall detected",
		Payload: map[string]interface{}{
			"areas":  []interface{}{"A1", "B2"},
			"prices": []interface{}{float64(45), float64(60.5)},
		},
		Timestamp: timestamp,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err, "Marshalling StatusEvent should not fail")

	var unmarshaled schemas.StatusEvent
	err = json.Unmarshal(data, &unmarshaled)
	require.NoError(t, err, "Unmarshalling StatusEvent should not fail")

	assert.True(t, reflect.DeepEqual(event, unmarshaled), "Original and unmarshaled events should be identical")
}

// TestEventConstructors verifies ids and timestamps are always populated.
func TestEventConstructors(t *testing.T) {
	t.Parallel()

	st := schemas.NewStateEvent("p1", schemas.StateMonitoring, "entering monitoring")
	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "p1", st.ProfileID)
	assert.Equal(t, schemas.EventStateTransition, st.Type)
	assert.Equal(t, schemas.StateMonitoring, st.State)
	assert.False(t, st.Timestamp.IsZero())

	tf := schemas.NewTicketFallEvent("p2", map[string]interface{}{"areas": 2})
	assert.NotEmpty(t, tf.ID)
	assert.Equal(t, schemas.EventTicketFall, tf.Type)
	assert.NotNil(t, tf.Payload)

	ps := schemas.NewPurchaseEvent("p3", "reserved, checkout manually")
	assert.Equal(t, schemas.EventPurchaseSuccess, ps.Type)
	assert.NotEqual(t, st.ID, ps.ID, "event ids must be unique")
}

// TestProfileConfigValidate covers the invariants the registry enforces
// before a loop is allowed to start.
func TestProfileConfigValidate(t *testing.T) {
	t.Parallel()

	valid := schemas.ProfileConfig{
		ProfileID:      "profile-1",
		TargetURL:      "https://tickets.example.com/match/991",
		EventID:        "991",
		RequestedSeats: 2,
		PollSpeedTier:  schemas.SpeedNormal,
	}
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name    string
		mutate  func(c *schemas.ProfileConfig)
		wantErr string
	}{
		{
			name:    "missing profile id",
			mutate:  func(c *schemas.ProfileConfig) { c.ProfileID = "  " },
			wantErr: "profile id",
		},
		{
			name:    "zero seats",
			mutate:  func(c *schemas.ProfileConfig) { c.RequestedSeats = 0 },
			wantErr: "requested seats",
		},
		{
			name:    "relative target url",
			mutate:  func(c *schemas.ProfileConfig) { c.TargetURL = "/match/991" },
			wantErr: "not absolute",
		},
		{
			name: "authenticated proxy without credentials",
			mutate: func(c *schemas.ProfileConfig) {
				c.Proxy = schemas.ProxyConfig{Mode: schemas.ProxyModeAuthenticated, Host: "proxy.example.com", Port: 8080}
			},
			wantErr: "credentials",
		},
		{
			name:    "unknown speed tier",
			mutate:  func(c *schemas.ProfileConfig) { c.PollSpeedTier = "ludicrous" },
			wantErr: "speed tier",
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestAreaAllowed verifies filter semantics: empty filter admits everything.
func TestAreaAllowed(t *testing.T) {
	t.Parallel()

	open := schemas.ProfileConfig{}
	assert.True(t, open.AreaAllowed("A1"))
	assert.True(t, open.AreaAllowed(""))

	filtered := schemas.ProfileConfig{AreaFilter: []string{"A1", "C3"}}
	assert.True(t, filtered.AreaAllowed("A1"))
	assert.True(t, filtered.AreaAllowed("C3"))
	assert.False(t, filtered.AreaAllowed("B2"))
}

// TestProxyURL checks proxy descriptor rendering for each mode.
func TestProxyURL(t *testing.T) {
	t.Parallel()

	none := schemas.ProxyConfig{Mode: schemas.ProxyModeNone}
	u, err := none.URL()
	require.NoError(t, err)
	assert.Nil(t, u, "disabled proxy should yield a nil URL")

	open := schemas.ProxyConfig{Mode: schemas.ProxyModeOpen, Host: "203.0.113.9", Port: 3128}
	u, err = open.URL()
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "http://203.0.113.9:3128", u.String())

	auth := schemas.ProxyConfig{
		Mode: schemas.ProxyModeAuthenticated,
		Host: "proxy.example.com", Port: 8080,
		Username: "scout", Password: "s3cret",
	}
	u, err = auth.URL()
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "scout:s3cret", u.User.String())
	assert.Equal(t, "proxy.example.com:8080", u.Host)
}
