package schemas

import (
	"fmt"
	"net/url"
	"strings"
)

// -- Profile Configuration Models --
// These types describe one monitored identity as resolved by the host
// application. The engine never loads or persists them itself.

// ProxyMode enumerates how outbound traffic for a profile is routed.
type ProxyMode string

const (
	// ProxyModeNone routes requests directly.
	ProxyModeNone ProxyMode = "NONE"
	// ProxyModeOpen routes through an upstream proxy without credentials.
	ProxyModeOpen ProxyMode = "OPEN"
	// ProxyModeAuthenticated routes through an upstream proxy with basic credentials.
	ProxyModeAuthenticated ProxyMode = "AUTHENTICATED"
)

// ProxyConfig describes the optional upstream proxy for a profile.
type ProxyConfig struct {
	Mode     ProxyMode `json:"mode" mapstructure:"mode"`
	Host     string    `json:"host" mapstructure:"host"`
	Port     int       `json:"port" mapstructure:"port"`
	Username string    `json:"username,omitempty" mapstructure:"username"`
	Password string    `json:"password,omitempty" mapstructure:"password"`
}

// Enabled reports whether the descriptor names a usable upstream proxy.
func (p ProxyConfig) Enabled() bool {
	return p.Mode != "" && p.Mode != ProxyModeNone && p.Host != ""
}

// URL renders the descriptor as a proxy URL suitable for http.Transport,
// or nil when the profile runs without a proxy.
func (p ProxyConfig) URL() (*url.URL, error) {
	if !p.Enabled() {
		return nil, nil
	}
	u := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", p.Host, p.Port),
	}
	if p.Mode == ProxyModeAuthenticated {
		if p.Username == "" {
			return nil, fmt.Errorf("proxy mode %s requires credentials", p.Mode)
		}
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}

// Persona captures the fingerprint surface of the browser the profile was
// launched with. The HTTP session mirrors these on every request so that
// bridged traffic is indistinguishable from the browser's own.
type Persona struct {
	UserAgent       string `json:"user_agent" mapstructure:"user_agent"`
	SecChUA         string `json:"sec_ch_ua" mapstructure:"sec_ch_ua"`
	SecChUAMobile   string `json:"sec_ch_ua_mobile" mapstructure:"sec_ch_ua_mobile"`
	SecChUAPlatform string `json:"sec_ch_ua_platform" mapstructure:"sec_ch_ua_platform"`
	AcceptLanguage  string `json:"accept_language" mapstructure:"accept_language"`
	Platform        string `json:"platform" mapstructure:"platform"`
}

// SpeedTier selects the polling cadence for a profile.
type SpeedTier string

const (
	SpeedFast   SpeedTier = "fast"
	SpeedNormal SpeedTier = "normal"
	SpeedSlow   SpeedTier = "slow"
)

// ProfileConfig is the per-identity record consumed by the monitoring engine.
// Credentials and fingerprint data arrive already resolved; the engine treats
// the record as immutable for the duration of one loop iteration.
type ProfileConfig struct {
	ProfileID      string      `json:"profile_id" mapstructure:"profile_id"`
	TargetURL      string      `json:"target_url" mapstructure:"target_url"`
	EventID        string      `json:"event_id" mapstructure:"event_id"`
	RequestedSeats int         `json:"requested_seats" mapstructure:"requested_seats"`
	AreaFilter     []string    `json:"area_filter,omitempty" mapstructure:"area_filter"`
	AccessKeyword  string      `json:"access_keyword" mapstructure:"access_keyword"`
	PollSpeedTier  SpeedTier   `json:"poll_speed_tier" mapstructure:"poll_speed_tier"`
	Proxy          ProxyConfig `json:"proxy" mapstructure:"proxy"`
	Persona        Persona     `json:"persona" mapstructure:"persona"`

	// DebuggerURL is the remote-debugging websocket endpoint of the browser
	// tab provisioned for this profile. Consumed by the host harness when it
	// attaches a tab handle; the core only ever sees the resulting handle.
	DebuggerURL string `json:"debugger_url,omitempty" mapstructure:"debugger_url"`
}

// Validate checks the invariants the engine relies on before a loop starts.
func (c *ProfileConfig) Validate() error {
	if strings.TrimSpace(c.ProfileID) == "" {
		return fmt.Errorf("profile id is required")
	}
	if c.RequestedSeats < 1 {
		return fmt.Errorf("profile %s: requested seats must be >= 1, got %d", c.ProfileID, c.RequestedSeats)
	}
	u, err := url.Parse(c.TargetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("profile %s: target url %q is not absolute", c.ProfileID, c.TargetURL)
	}
	if c.Proxy.Enabled() {
		if _, err := c.Proxy.URL(); err != nil {
			return fmt.Errorf("profile %s: %w", c.ProfileID, err)
		}
	}
	switch c.PollSpeedTier {
	case "", SpeedFast, SpeedNormal, SpeedSlow:
	default:
		return fmt.Errorf("profile %s: unknown poll speed tier %q", c.ProfileID, c.PollSpeedTier)
	}
	return nil
}

// AreaAllowed reports whether an area id passes the profile's filter.
// An empty filter admits every area.
func (c *ProfileConfig) AreaAllowed(areaID string) bool {
	if len(c.AreaFilter) == 0 {
		return true
	}
	for _, id := range c.AreaFilter {
		if id == areaID {
			return true
		}
	}
	return false
}
