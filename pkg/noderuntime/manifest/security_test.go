package manifest

import (
	"testing"
	"time"
)

func TestCapabilities_HasWith(t *testing.T) {
	caps := Capabilities(0).With(CapLogging).With(CapStorageRead)
	if !caps.Has(CapLogging) {
		t.Error("expected CapLogging to be present")
	}
	if !caps.Has(CapStorageRead) {
		t.Error("expected CapStorageRead to be present")
	}
	if caps.Has(CapHTTPGet) {
		t.Error("did not expect CapHTTPGet")
	}
}

func TestDeriveSecurityConfig(t *testing.T) {
	m := validManifest()
	m.Permissions.Memory = MemoryStandard
	m.Permissions.Timeout = TimeoutStandard
	m.Permissions.Network.HTTPEnabled = true
	m.Permissions.Network.AllowedHosts = []string{"api.example.com"}
	m.Permissions.Filesystem.NodeStorage = true
	m.Permissions.Variables = true
	m.Permissions.Streaming = true
	m.Permissions.OAuthScopes = []OAuthScope{{Provider: "google"}}

	sec := DeriveSecurityConfig(m)

	if sec.Limits.MemoryLimit != 64*1024*1024 {
		t.Errorf("expected 64MiB memory limit, got %d", sec.Limits.MemoryLimit)
	}
	if sec.Limits.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", sec.Limits.Timeout)
	}

	wantPresent := []Capability{CapLogging, CapHTTPGet, CapHTTPPost, CapHTTPAll, CapStorageRead, CapStorageWrite, CapVariablesRead, CapVariablesWrite, CapOAuth, CapStreaming}
	for _, cap := range wantPresent {
		if !sec.Capabilities.Has(cap) {
			t.Errorf("expected capability %b to be granted", cap)
		}
	}
	wantAbsent := []Capability{CapCacheRead, CapCacheWrite, CapA2UI, CapModels}
	for _, cap := range wantAbsent {
		if sec.Capabilities.Has(cap) {
			t.Errorf("did not expect capability %b", cap)
		}
	}

	if len(sec.AllowedHosts) != 1 || sec.AllowedHosts[0] != "api.example.com" {
		t.Errorf("unexpected allowed hosts: %v", sec.AllowedHosts)
	}
}

func TestDeriveSecurityConfig_LoggingAlwaysGranted(t *testing.T) {
	m := validManifest()
	sec := DeriveSecurityConfig(m)
	if !sec.Capabilities.Has(CapLogging) {
		t.Error("logging must be implicitly granted")
	}
	if sec.AllowedHosts != nil {
		t.Errorf("empty allowed_hosts must derive to nil, got %v", sec.AllowedHosts)
	}
}

func TestSecurityConfig_HostAllowed(t *testing.T) {
	sec := SecurityConfig{AllowedHosts: []string{"API.Example.com", "localhost"}}

	if !sec.HostAllowed("api.example.com") {
		t.Error("match must be case-insensitive")
	}
	if !sec.HostAllowed("LOCALHOST") {
		t.Error("match must be case-insensitive")
	}
	if sec.HostAllowed("evil.example.com") {
		t.Error("match must be exact, not suffix")
	}

	open := SecurityConfig{}
	if !open.HostAllowed("anything.example.com") {
		t.Error("nil allow-list means every host is allowed")
	}
}
