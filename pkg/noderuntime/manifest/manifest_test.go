package manifest

import (
	"strings"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		ManifestVersion: 1,
		ID:              "com.example.echo",
		Name:            "Echo",
		Version:         "1.0.0",
		Permissions: Permissions{
			Memory:  MemoryMinimal,
			Timeout: TimeoutQuick,
		},
		Nodes: []NodeEntry{
			{ID: "echo", Name: "Echo"},
		},
	}
}

func TestMemoryTier_Bytes(t *testing.T) {
	cases := []struct {
		tier MemoryTier
		want uint64
	}{
		{MemoryMinimal, 16 * 1024 * 1024},
		{MemoryLight, 32 * 1024 * 1024},
		{MemoryStandard, 64 * 1024 * 1024},
		{MemoryHeavy, 128 * 1024 * 1024},
		{MemoryIntensive, 256 * 1024 * 1024},
		{MemoryTier("bogus"), 0},
	}
	for _, tc := range cases {
		if got := tc.tier.Bytes(); got != tc.want {
			t.Errorf("tier %q: expected %d bytes, got %d", tc.tier, tc.want, got)
		}
	}
}

func TestTimeoutTier_Seconds(t *testing.T) {
	cases := []struct {
		tier TimeoutTier
		want int
	}{
		{TimeoutQuick, 5},
		{TimeoutStandard, 30},
		{TimeoutExtended, 60},
		{TimeoutLongRunning, 300},
		{TimeoutTier("bogus"), 0},
	}
	for _, tc := range cases {
		if got := tc.tier.Seconds(); got != tc.want {
			t.Errorf("tier %q: expected %d seconds, got %d", tc.tier, tc.want, got)
		}
	}
}

func TestParseTOML(t *testing.T) {
	doc := `
manifest_version = 1
id = "com.example.echo"
name = "Echo"
version = "1.0.0"

[permissions]
memory = "minimal"
timeout = "quick"

[permissions.network]
http_enabled = true
allowed_hosts = ["api.example.com"]

[[permissions.oauth_scopes]]
provider = "google"
scopes = ["email"]

[[nodes]]
id = "echo"
name = "Echo"
oauth_providers = ["google"]
`
	m, err := ParseTOML([]byte(doc))
	if err != nil {
		t.Fatalf("ParseTOML failed: %v", err)
	}
	if m.ID != "com.example.echo" {
		t.Errorf("expected id com.example.echo, got %q", m.ID)
	}
	if m.Permissions.Memory != MemoryMinimal {
		t.Errorf("expected memory tier minimal, got %q", m.Permissions.Memory)
	}
	if len(m.Permissions.Network.AllowedHosts) != 1 || m.Permissions.Network.AllowedHosts[0] != "api.example.com" {
		t.Errorf("unexpected allowed hosts: %v", m.Permissions.Network.AllowedHosts)
	}
	if err := m.Validate(nil); err != nil {
		t.Errorf("expected valid manifest, got %v", err)
	}
}

func TestParseJSON(t *testing.T) {
	doc := `{
		"manifest_version": 1,
		"id": "com.example.echo",
		"name": "Echo",
		"version": "1.0.0",
		"permissions": {"memory": "standard", "timeout": "extended"},
		"nodes": [{"id": "echo", "name": "Echo"}]
	}`
	m, err := ParseJSON([]byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if m.Permissions.Timeout != TimeoutExtended {
		t.Errorf("expected timeout tier extended, got %q", m.Permissions.Timeout)
	}
	if err := m.Validate(nil); err != nil {
		t.Errorf("expected valid manifest, got %v", err)
	}
}

func TestManifest_Validate_OAuthSubset(t *testing.T) {
	m := validManifest()
	m.Nodes[0].OAuthProviders = []string{"google"}

	err := m.Validate(nil)
	if err == nil {
		t.Fatal("expected validation failure for undeclared oauth provider")
	}
	invalid, ok := err.(*ManifestInvalidError)
	if !ok {
		t.Fatalf("expected *ManifestInvalidError, got %T", err)
	}
	found := false
	for _, reason := range invalid.Reasons {
		if strings.Contains(reason, "google") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a reason naming the undeclared provider, got %v", invalid.Reasons)
	}

	// Declaring the provider fixes it.
	m.Permissions.OAuthScopes = []OAuthScope{{Provider: "google"}}
	if err := m.Validate(nil); err != nil {
		t.Errorf("expected valid manifest after declaring provider, got %v", err)
	}
}

func TestManifest_Validate_Version(t *testing.T) {
	m := validManifest()
	m.ManifestVersion = 2
	if err := m.Validate(nil); err == nil {
		t.Error("expected failure for manifest_version 2")
	}
}

func TestManifest_Validate_UnknownTiers(t *testing.T) {
	m := validManifest()
	m.Permissions.Memory = "huge"
	m.Permissions.Timeout = "forever"
	err := m.Validate(nil)
	if err == nil {
		t.Fatal("expected failure for unknown tiers")
	}
	invalid := err.(*ManifestInvalidError)
	if len(invalid.Reasons) < 2 {
		t.Errorf("expected reasons for both tiers, got %v", invalid.Reasons)
	}
}

func TestManifest_Validate_WasmHash(t *testing.T) {
	wasm := []byte("not really wasm, but hashable")
	m := validManifest()
	m.WasmHash = ContentHash(wasm)

	if err := m.Validate(wasm); err != nil {
		t.Errorf("expected matching hash to validate, got %v", err)
	}

	m.WasmHash = strings.Repeat("ab", 32)
	if err := m.Validate(wasm); err == nil {
		t.Error("expected failure for mismatched wasm_hash")
	}

	// nil bytes skip hash verification entirely.
	if err := m.Validate(nil); err != nil {
		t.Errorf("expected nil bytes to skip hash check, got %v", err)
	}
}

func TestContentHash_Deterministic(t *testing.T) {
	a := ContentHash([]byte("payload"))
	b := ContentHash([]byte("payload"))
	if a != b {
		t.Errorf("same bytes hashed differently: %s vs %s", a, b)
	}
	if a == ContentHash([]byte("other")) {
		t.Error("different bytes produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}
