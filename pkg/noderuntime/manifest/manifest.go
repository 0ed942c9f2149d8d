// Package manifest parses and validates package manifests
// and derives the SecurityConfig the runtime enforces per package.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"lukechampine.com/blake3"
)

// SupportedManifestVersion is the only manifest_version this loader accepts
//.
const SupportedManifestVersion = 1

// MemoryTier is one of the declared memory budgets a package may request
//.
type MemoryTier string

const (
	MemoryMinimal   MemoryTier = "minimal"
	MemoryLight     MemoryTier = "light"
	MemoryStandard  MemoryTier = "standard"
	MemoryHeavy     MemoryTier = "heavy"
	MemoryIntensive MemoryTier = "intensive"
)

// Bytes returns the byte budget for the tier.
func (t MemoryTier) Bytes() uint64 {
	const mib = 1024 * 1024
	switch t {
	case MemoryMinimal:
		return 16 * mib
	case MemoryLight:
		return 32 * mib
	case MemoryStandard:
		return 64 * mib
	case MemoryHeavy:
		return 128 * mib
	case MemoryIntensive:
		return 256 * mib
	default:
		return 0
	}
}

func (t MemoryTier) valid() bool {
	return t.Bytes() != 0
}

// TimeoutTier is one of the declared wall-clock budgets.
type TimeoutTier string

const (
	TimeoutQuick       TimeoutTier = "quick"
	TimeoutStandard    TimeoutTier = "standard"
	TimeoutExtended    TimeoutTier = "extended"
	TimeoutLongRunning TimeoutTier = "long_running"
)

// Seconds returns the wall-clock budget for the tier.
func (t TimeoutTier) Seconds() int {
	switch t {
	case TimeoutQuick:
		return 5
	case TimeoutStandard:
		return 30
	case TimeoutExtended:
		return 60
	case TimeoutLongRunning:
		return 300
	default:
		return 0
	}
}

func (t TimeoutTier) valid() bool {
	return t.Seconds() != 0
}

// NetworkPermissions controls outbound HTTP/WebSocket access.
type NetworkPermissions struct {
	HTTPEnabled      bool     `json:"http_enabled" toml:"http_enabled"`
	AllowedHosts     []string `json:"allowed_hosts,omitempty" toml:"allowed_hosts,omitempty"`
	WebsocketEnabled bool     `json:"websocket_enabled" toml:"websocket_enabled"`
}

// FilesystemPermissions names the storage scopes a package may touch
//.
type FilesystemPermissions struct {
	NodeStorage bool `json:"node_storage" toml:"node_storage"`
	UserStorage bool `json:"user_storage" toml:"user_storage"`
	UploadDir   bool `json:"upload_dir" toml:"upload_dir"`
	CacheDir    bool `json:"cache_dir" toml:"cache_dir"`
}

// OAuthScope declares one provider's scopes a package may request.
type OAuthScope struct {
	Provider string   `json:"provider" toml:"provider" validate:"required"`
	Scopes   []string `json:"scopes,omitempty" toml:"scopes,omitempty"`
	Reason   string   `json:"reason,omitempty" toml:"reason,omitempty"`
	Required bool     `json:"required,omitempty" toml:"required,omitempty"`
}

// Permissions is the manifest's `permissions` block.
type Permissions struct {
	Memory     MemoryTier             `json:"memory" toml:"memory" validate:"required"`
	Timeout    TimeoutTier            `json:"timeout" toml:"timeout" validate:"required"`
	Network    NetworkPermissions     `json:"network" toml:"network"`
	Filesystem FilesystemPermissions  `json:"filesystem" toml:"filesystem"`
	OAuthScopes []OAuthScope          `json:"oauth_scopes,omitempty" toml:"oauth_scopes,omitempty"`
	Variables  bool                   `json:"variables" toml:"variables"`
	Cache      bool                   `json:"cache" toml:"cache"`
	Streaming  bool                   `json:"streaming" toml:"streaming"`
	A2UI       bool                   `json:"a2ui" toml:"a2ui"`
	Models     bool                   `json:"models" toml:"models"`
}

// NodeEntry is one addressable node a package exposes.
type NodeEntry struct {
	ID             string   `json:"id" toml:"id" validate:"required"`
	Name           string   `json:"name" toml:"name" validate:"required"`
	Description    string   `json:"description,omitempty" toml:"description,omitempty"`
	Category       string   `json:"category,omitempty" toml:"category,omitempty"`
	Icon           string   `json:"icon,omitempty" toml:"icon,omitempty"`
	OAuthProviders []string `json:"oauth_providers,omitempty" toml:"oauth_providers,omitempty"`
}

// Manifest is the immutable-after-validation package declaration.
type Manifest struct {
	ManifestVersion uint32      `json:"manifest_version" toml:"manifest_version" validate:"required"`
	ID              string      `json:"id" toml:"id" validate:"required"`
	Name            string      `json:"name" toml:"name" validate:"required"`
	Version         string      `json:"version" toml:"version" validate:"required"`
	Description     string      `json:"description,omitempty" toml:"description,omitempty"`
	Authors         []string    `json:"authors,omitempty" toml:"authors,omitempty"`
	License         string      `json:"license,omitempty" toml:"license,omitempty"`
	Repo            string      `json:"repo,omitempty" toml:"repo,omitempty"`
	Permissions     Permissions `json:"permissions" toml:"permissions" validate:"required"`
	Nodes           []NodeEntry `json:"nodes" toml:"nodes" validate:"required,min=1,dive"`
	WasmHash        string      `json:"wasm_hash,omitempty" toml:"wasm_hash,omitempty"`
}

var validate = validator.New()

// ParseTOML parses a manifest.toml document.
func ParseTOML(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest toml: %w", err)
	}
	return &m, nil
}

// ParseJSON parses a manifest.json document.
func ParseJSON(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest json: %w", err)
	}
	return &m, nil
}

// ManifestInvalidError reports every validation failure found, not just the
// first.
type ManifestInvalidError struct {
	Reasons []string
}

func (e *ManifestInvalidError) Error() string {
	return fmt.Sprintf("manifest invalid: %s", strings.Join(e.Reasons, "; "))
}

// Validate checks the manifest invariants:
//   - manifest_version must be 1
//   - at least one node
//   - every NodeEntry.oauth_providers is a subset of permissions.oauth_scopes[*].provider
//   - memory/timeout tiers are recognised
//   - wasm_hash, if present, equals BLAKE3 of wasmBytes
// wasmBytes may be nil to skip hash verification (e.g. validating a manifest
// before the WASM payload has been fetched).
func (m *Manifest) Validate(wasmBytes []byte) error {
	var reasons []string

	if err := validate.Struct(m); err != nil {
		reasons = append(reasons, err.Error())
	}

	if m.ManifestVersion != SupportedManifestVersion {
		reasons = append(reasons, fmt.Sprintf("manifest_version %d is not supported (expected %d)", m.ManifestVersion, SupportedManifestVersion))
	}

	if len(m.Nodes) == 0 {
		reasons = append(reasons, "manifest must declare at least one node")
	}

	if !m.Permissions.Memory.valid() {
		reasons = append(reasons, fmt.Sprintf("unknown memory tier %q", m.Permissions.Memory))
	}
	if !m.Permissions.Timeout.valid() {
		reasons = append(reasons, fmt.Sprintf("unknown timeout tier %q", m.Permissions.Timeout))
	}

	declaredProviders := make(map[string]struct{}, len(m.Permissions.OAuthScopes))
	for _, scope := range m.Permissions.OAuthScopes {
		declaredProviders[scope.Provider] = struct{}{}
	}
	for _, node := range m.Nodes {
		for _, provider := range node.OAuthProviders {
			if _, ok := declaredProviders[provider]; !ok {
				reasons = append(reasons, fmt.Sprintf("node %q references oauth provider %q not in permissions.oauth_scopes", node.ID, provider))
			}
		}
	}

	if m.WasmHash != "" && wasmBytes != nil {
		sum := blake3.Sum256(wasmBytes)
		got := fmt.Sprintf("%x", sum[:])
		if !strings.EqualFold(got, m.WasmHash) {
			reasons = append(reasons, fmt.Sprintf("wasm_hash mismatch: manifest declares %s, content hashes to %s", m.WasmHash, got))
		}
	}

	if len(reasons) > 0 {
		return &ManifestInvalidError{Reasons: reasons}
	}
	return nil
}

// ContentHash returns the BLAKE3 hash of wasmBytes as a lowercase hex string,
// used to key the compilation cache.
func ContentHash(wasmBytes []byte) string {
	sum := blake3.Sum256(wasmBytes)
	return fmt.Sprintf("%x", sum[:])
}
