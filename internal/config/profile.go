package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as a string ("10s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Profile is the per-profile profiles/<name>/profile.toml.
type Profile struct {
	BaseURL           string   `toml:"base_url"`
	FallbackOrigin    string   `toml:"fallback_origin,omitempty"`
	Token             string   `toml:"token"`
	UserID            int64    `toml:"user_id"`
	PageSize          int      `toml:"page_size"`
	RequestTimeout    Duration `toml:"request_timeout"`
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
	ReconnectDelay    Duration `toml:"reconnect_delay"`
	ReconnectPolicy   string   `toml:"reconnect_policy"`
	ReconnectMaxDelay Duration `toml:"reconnect_max_delay"`
	LivenessTimeout   Duration `toml:"liveness_timeout"`
	LogLevel          string   `toml:"log_level"`
}

// DefaultProfile returns a profile with every optional key at its default.
func DefaultProfile() Profile {
	return Profile{
		PageSize:          30,
		RequestTimeout:    Duration{15 * time.Second},
		HeartbeatInterval: Duration{10 * time.Second},
		ReconnectDelay:    Duration{3 * time.Second},
		ReconnectPolicy:   "fixed",
		ReconnectMaxDelay: Duration{time.Minute},
		LogLevel:          "info",
	}
}

// LoadProfile reads a profile file. Keys missing from the file keep their
// defaults.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveProfile writes p to path with owner-only permissions; it holds a token.
func SaveProfile(path string, p *Profile) error {
	return writeTOML(path, p)
}

// Origin returns the base URL for REST calls, falling back to the
// configured origin.
func (p *Profile) Origin() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return p.FallbackOrigin
}

// Validate reports every invalid value of p.
func (p *Profile) Validate() error {
	var errs []error
	if p.BaseURL == "" && p.FallbackOrigin == "" {
		errs = append(errs, errors.New("base_url or fallback_origin is required"))
	}
	for key, raw := range map[string]string{"base_url": p.BaseURL, "fallback_origin": p.FallbackOrigin} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s %q must be an http(s) url", key, raw))
		}
	}
	if p.UserID <= 0 {
		errs = append(errs, errors.New("user_id must be positive"))
	}
	if p.PageSize <= 0 || p.PageSize > 200 {
		errs = append(errs, fmt.Errorf("page_size %d out of range 1..200", p.PageSize))
	}
	for key, d := range map[string]Duration{
		"request_timeout":    p.RequestTimeout,
		"heartbeat_interval": p.HeartbeatInterval,
		"reconnect_delay":    p.ReconnectDelay,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", key))
		}
	}
	if p.LivenessTimeout.Duration < 0 {
		errs = append(errs, errors.New("liveness_timeout must not be negative"))
	}
	if p.LivenessTimeout.Duration > 0 && p.LivenessTimeout.Duration <= p.HeartbeatInterval.Duration {
		errs = append(errs, errors.New("liveness_timeout must exceed heartbeat_interval"))
	}
	switch p.ReconnectPolicy {
	case "fixed":
	case "exponential":
		if p.ReconnectMaxDelay.Duration < p.ReconnectDelay.Duration {
			errs = append(errs, errors.New("reconnect_max_delay must be at least reconnect_delay"))
		}
	default:
		errs = append(errs, fmt.Errorf("reconnect_policy %q must be fixed or exponential", p.ReconnectPolicy))
	}
	return errors.Join(errs...)
}
