package noderuntime

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

// sha256Hex returns the lowercase hex SHA-256 digest of data, used only to
// verify the optional node.wasm.sha256 distribution sidecar (see
// verifySidecarHash); the runtime's own content addressing is BLAKE3
// throughout (manifest.ContentHash).
func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Loader reads a package archive off disk
// and turns it into a loaded Package plus its raw WASM bytes, ready for the
// Engine to compile and the Orchestrator to run.
type Loader struct{}

// NewLoader constructs a Loader. It carries no state today but is a type
// (not a package-level function) so a future version can add injected
// dependencies (e.g. a remote archive fetcher) without breaking callers.
func NewLoader() *Loader { return &Loader{} }

// LoadResult is everything Load produces: the Package metadata, the
// SecurityConfig derived from its manifest, and the raw WASM bytes (handed
// to the Engine to compile/cache).
type LoadResult struct {
	Package   *Package
	Security  manifest.SecurityConfig
	WasmBytes []byte
}

// Load reads manifest.toml|json and node.wasm (optionally node.wasm.sha256)
// from dir, validates the manifest, derives the package's
// SecurityConfig, and detects the WASM format. It does not
// enumerate nodes via get_node(s) — that happens once per package load in
// the Orchestrator, since it requires instantiating the
// module.
func (l *Loader) Load(dir string) (*LoadResult, error) {
	m, err := l.readManifest(dir)
	if err != nil {
		return nil, err
	}

	wasmBytes, err := os.ReadFile(filepath.Join(dir, "node.wasm"))
	if err != nil {
		return nil, &IoError{Cause: fmt.Errorf("read node.wasm: %w", err)}
	}

	if err := l.verifySidecarHash(dir, wasmBytes); err != nil {
		return nil, err
	}

	if err := m.Validate(wasmBytes); err != nil {
		return nil, err
	}

	format := DetectFormat(wasmBytes)
	if format == FormatUnknown {
		return nil, &UnsupportedFormatError{PackageID: m.ID}
	}

	sec := manifest.DeriveSecurityConfig(m)

	pkg := &Package{
		ID:          m.ID,
		Version:     m.Version,
		Manifest:    m,
		Format:      format,
		ContentHash: manifest.ContentHash(wasmBytes),
		LoadedAt:    time.Now(),
	}

	return &LoadResult{Package: pkg, Security: sec, WasmBytes: wasmBytes}, nil
}

// readManifest prefers manifest.toml, falling back to manifest.json.
func (l *Loader) readManifest(dir string) (*manifest.Manifest, error) {
	tomlPath := filepath.Join(dir, "manifest.toml")
	jsonPath := filepath.Join(dir, "manifest.json")

	if data, err := os.ReadFile(tomlPath); err == nil {
		m, err := manifest.ParseTOML(data)
		if err != nil {
			return nil, &ManifestInvalidError{Reasons: []string{err.Error()}}
		}
		return m, nil
	} else if !os.IsNotExist(err) {
		return nil, &IoError{Cause: fmt.Errorf("read manifest.toml: %w", err)}
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &IoError{Cause: fmt.Errorf("neither manifest.toml nor manifest.json found in %s", dir)}
		}
		return nil, &IoError{Cause: fmt.Errorf("read manifest.json: %w", err)}
	}
	m, err := manifest.ParseJSON(data)
	if err != nil {
		return nil, &ManifestInvalidError{Reasons: []string{err.Error()}}
	}
	return m, nil
}

// verifySidecarHash checks the optional node.wasm.sha256 sidecar file
// against wasmBytes, when present.
// Despite the file's name the runtime's own content-addressing uses BLAKE3
// throughout; the sidecar
// is a distribution-time integrity check against whatever the packaging
// tool that produced it wrote, so it is verified independently: its hex
// digest is always compared against the SHA-256 of wasmBytes.
func (l *Loader) verifySidecarHash(dir string, wasmBytes []byte) error {
	sidecarPath := filepath.Join(dir, "node.wasm.sha256")
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &IoError{Cause: fmt.Errorf("read node.wasm.sha256: %w", err)}
	}

	want := strings.ToLower(strings.TrimSpace(string(data)))
	if idx := strings.IndexByte(want, ' '); idx >= 0 {
		want = want[:idx] // tolerate "<hash>  node.wasm" sha256sum output format
	}
	if _, err := hex.DecodeString(want); err != nil {
		return &ManifestInvalidError{Reasons: []string{fmt.Sprintf("node.wasm.sha256 is not valid hex: %v", err)}}
	}

	got := sha256Hex(wasmBytes)
	if !strings.EqualFold(got, want) {
		return &ManifestInvalidError{Reasons: []string{fmt.Sprintf("node.wasm.sha256 mismatch: sidecar declares %s, content hashes to %s", want, got)}}
	}
	return nil
}
