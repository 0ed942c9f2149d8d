package manifest

import "time"

// Capability is a single bit in an instance's capability set.
type Capability uint32

const (
	CapHTTPGet Capability = 1 << iota
	CapHTTPPost
	CapHTTPAll
	CapStorageRead
	CapStorageWrite
	CapVariablesRead
	CapVariablesWrite
	CapCacheRead
	CapCacheWrite
	CapOAuth
	CapStreaming
	CapA2UI
	CapModels
	// CapLogging is always implicitly granted.
	CapLogging
)

// Capabilities is the full bitset an instance carries.
type Capabilities uint32

// Has reports whether cap is present in the set.
func (c Capabilities) Has(cap Capability) bool {
	return c&Capabilities(cap) != 0
}

// With returns a copy of the set with cap added.
func (c Capabilities) With(cap Capability) Capabilities {
	return c | Capabilities(cap)
}

// Limits are the resource budgets enforced on every instance.
type Limits struct {
	MemoryLimit   uint64
	FuelLimit     uint64
	Timeout       time.Duration
	StackSize     uint32
	TableElements uint32
}

// DefaultFuelLimit is the fuel credit granted per invocation absent any
// other signal.
const DefaultFuelLimit uint64 = 10_000_000

// DefaultStackSize bounds the max WASM stack depth.
const DefaultStackSize uint32 = 512 * 1024

// DefaultTableElements caps table growth per store.
const DefaultTableElements uint32 = 10_000

// SecurityConfig is the full per-package security posture.
type SecurityConfig struct {
	Limits            Limits
	Capabilities      Capabilities
	AllowWasi         bool
	AllowWasiNetwork  bool
	AllowedHosts      []string // nil means "no allow-list", not "block everything"
}

// HostAllowed reports whether host is permitted for outbound HTTP. Matching
// is exact and case-insensitive. A nil AllowedHosts means no allow-list is
// configured and every host passes (capability checks still gate whether
// HTTP is reachable at all).
func (c *SecurityConfig) HostAllowed(host string) bool {
	if c.AllowedHosts == nil {
		return true
	}
	for _, allowed := range c.AllowedHosts {
		if equalFold(allowed, host) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// DeriveSecurityConfig translates a validated Manifest into a SecurityConfig,
// deterministically:
//	memory.tier.bytes()      -> limits.memory_limit
//	timeout.tier.duration()  -> limits.timeout
//	sum of capability flags  -> Capabilities bitset
//	network.allowed_hosts    -> empty => nil (None), non-empty => Some(list)
func DeriveSecurityConfig(m *Manifest) SecurityConfig {
	caps := Capabilities(0).With(CapLogging)

	if m.Permissions.Network.HTTPEnabled {
		caps = caps.With(CapHTTPGet).With(CapHTTPPost).With(CapHTTPAll)
	}
	if m.Permissions.Filesystem.NodeStorage || m.Permissions.Filesystem.UserStorage || m.Permissions.Filesystem.UploadDir {
		caps = caps.With(CapStorageRead).With(CapStorageWrite)
	}
	if m.Permissions.Variables {
		caps = caps.With(CapVariablesRead).With(CapVariablesWrite)
	}
	if m.Permissions.Cache || m.Permissions.Filesystem.CacheDir {
		caps = caps.With(CapCacheRead).With(CapCacheWrite)
	}
	if len(m.Permissions.OAuthScopes) > 0 {
		caps = caps.With(CapOAuth)
	}
	if m.Permissions.Streaming {
		caps = caps.With(CapStreaming)
	}
	if m.Permissions.A2UI {
		caps = caps.With(CapA2UI)
	}
	if m.Permissions.Models {
		caps = caps.With(CapModels)
	}

	var allowedHosts []string
	if len(m.Permissions.Network.AllowedHosts) > 0 {
		allowedHosts = append(allowedHosts, m.Permissions.Network.AllowedHosts...)
	}

	return SecurityConfig{
		Limits: Limits{
			MemoryLimit:   m.Permissions.Memory.Bytes(),
			FuelLimit:     DefaultFuelLimit,
			Timeout:       time.Duration(m.Permissions.Timeout.Seconds()) * time.Second,
			StackSize:     DefaultStackSize,
			TableElements: DefaultTableElements,
		},
		Capabilities:     caps,
		AllowWasi:        true,
		AllowWasiNetwork: m.Permissions.Network.WebsocketEnabled,
		AllowedHosts:     allowedHosts,
	}
}
