package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadProfileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	content := "base_url = \"https://forum.example.com\"\nuser_id = 42\nheartbeat_interval = \"5s\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if p.HeartbeatInterval.Duration != 5*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 5s", p.HeartbeatInterval)
	}
	if p.ReconnectDelay.Duration != 3*time.Second || p.ReconnectPolicy != "fixed" || p.PageSize != 30 {
		t.Errorf("defaults not applied: %+v", p)
	}
	if p.LivenessTimeout.Duration != 0 {
		t.Errorf("LivenessTimeout = %v, want disabled", p.LivenessTimeout)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestSaveProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p", "profile.toml")
	p := DefaultProfile()
	p.BaseURL = "http://localhost:8080"
	p.UserID = 7
	p.Token = "t"
	p.ReconnectPolicy = "exponential"
	if err := SaveProfile(path, &p); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `reconnect_delay = "3s"`) {
		t.Errorf("durations not written as strings:\n%s", data)
	}
	loaded, err := LoadProfile(path)
	if err != nil {
		t.Fatal(err)
	}
	if *loaded != p {
		t.Errorf("loaded = %+v, want %+v", *loaded, p)
	}
}

func TestLoadProfileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte(`reconnect_delay = "soon"`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProfile(path); err == nil {
		t.Error("LoadProfile() expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Profile {
		p := DefaultProfile()
		p.BaseURL = "https://forum.example.com"
		p.UserID = 1
		return p
	}
	tests := []struct {
		name   string
		mutate func(*Profile)
		want   string
	}{
		{"no endpoint", func(p *Profile) { p.BaseURL = "" }, "base_url or fallback_origin"},
		{"fallback only", func(p *Profile) { p.BaseURL, p.FallbackOrigin = "", "http://localhost:3000" }, ""},
		{"bad scheme", func(p *Profile) { p.BaseURL = "ftp://x" }, "http(s) url"},
		{"no user", func(p *Profile) { p.UserID = 0 }, "user_id"},
		{"page size", func(p *Profile) { p.PageSize = 0 }, "page_size"},
		{"zero heartbeat", func(p *Profile) { p.HeartbeatInterval.Duration = 0 }, "heartbeat_interval"},
		{"liveness too short", func(p *Profile) { p.LivenessTimeout.Duration = time.Second }, "liveness_timeout"},
		{"liveness ok", func(p *Profile) { p.LivenessTimeout.Duration = 30 * time.Second }, ""},
		{"unknown policy", func(p *Profile) { p.ReconnectPolicy = "linear" }, "reconnect_policy"},
		{"cap below delay", func(p *Profile) {
			p.ReconnectPolicy = "exponential"
			p.ReconnectMaxDelay.Duration = time.Second
		}, "reconnect_max_delay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			err := p.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestOrigin(t *testing.T) {
	p := DefaultProfile()
	p.FallbackOrigin = "http://localhost:3000"
	if p.Origin() != "http://localhost:3000" {
		t.Errorf("Origin() = %q, want fallback", p.Origin())
	}
	p.BaseURL = "https://forum.example.com"
	if p.Origin() != "https://forum.example.com" {
		t.Errorf("Origin() = %q, want base url", p.Origin())
	}
}
