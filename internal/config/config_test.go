package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalNVR = "nvrs:\n  - api_host: nvr.local\n    api_key: abc\n"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, minimalNVR)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(minimalNVR), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, "nvrs:\n  - api_host: nvr.local\n    api_key: ${UFVBRIDGE_TEST_KEY}\n")
	t.Setenv("UFVBRIDGE_TEST_KEY", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.NVRs[0].APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.NVRs[0].APIKey, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "nvrs:\n  - api_host: a.local\n    api_key: k\n  - api_host: b.local\n    api_key: k\n    api_protocol: HTTPS\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"http protocol", cfg.NVRs[0].APIProtocol, "http"},
		{"http port", cfg.NVRs[0].APIPort, DefaultHTTPPort},
		{"https protocol lowercased", cfg.NVRs[1].APIProtocol, "https"},
		{"https port", cfg.NVRs[1].APIPort, DefaultHTTPSPort},
		{"tls verification on by default", cfg.NVRs[1].InsecureSkipVerify, false},
		{"discovery prefix", cfg.MQTT.DiscoveryPrefix, "homeassistant"},
		{"device name", cfg.MQTT.DeviceName, "ufvbridge"},
		{"listen port", cfg.Listen.Port, 9477},
		{"data dir", cfg.DataDir, "./data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoad_InsecureSkipVerifyOptOut(t *testing.T) {
	path := writeConfig(t, "nvrs:\n  - api_host: nvr.local\n    api_key: k\n    api_protocol: https\n    insecure_skip_verify: true\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.NVRs[0].InsecureSkipVerify {
		t.Error("insecure_skip_verify should be true when set explicitly")
	}
}

func TestLoad_NoNVRs(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load should fail when no NVRs are configured")
	}
	if !strings.Contains(err.Error(), "at least one NVR") {
		t.Errorf("error = %v, want mention of missing NVRs", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			NVRs: []NVRConfig{{APIHost: "nvr", APIKey: "k", APIProtocol: "http", APIPort: 7080}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.NVRs[0].APIHost = "" }, "api_host is required"},
		{"missing key", func(c *Config) { c.NVRs[0].APIKey = "" }, "api_key is required"},
		{"bad protocol", func(c *Config) { c.NVRs[0].APIProtocol = "ftp" }, "must be http or https"},
		{"bad port", func(c *Config) { c.NVRs[0].APIPort = 70000 }, "out of range"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNVRConfig_LabelAndScheme(t *testing.T) {
	n := NVRConfig{APIHost: "10.0.0.5", APIProtocol: "https"}
	if n.Label() != "10.0.0.5" {
		t.Errorf("Label() = %q, want host fallback", n.Label())
	}
	n.Name = "garage"
	if n.Label() != "garage" {
		t.Errorf("Label() = %q, want garage", n.Label())
	}
	if n.Scheme() != "https" {
		t.Errorf("Scheme() = %q, want https", n.Scheme())
	}
	n.APIProtocol = "spdy"
	if n.Scheme() != "http" {
		t.Errorf("Scheme() = %q, want http fallback", n.Scheme())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level should pass through unchanged")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Setenv("UFV_API_KEY", "k")
	t.Setenv("MQTT_PASSWORD", "p")

	cfg, err := Load("../../config.example.yaml")
	if err != nil {
		t.Fatalf("Load(config.example.yaml) error: %v", err)
	}
	if len(cfg.NVRs) != 1 || cfg.NVRs[0].APIKey != "k" || cfg.NVRs[0].APIPort != DefaultHTTPSPort {
		t.Errorf("NVRs = %+v", cfg.NVRs)
	}
	if !cfg.MQTT.Configured() || cfg.MQTT.Password != "p" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
}
