package noderuntime

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

const testManifestTOML = `
manifest_version = 1
id = "com.example.echo"
name = "Echo"
version = "1.0.0"

[permissions]
memory = "minimal"
timeout = "quick"

[[nodes]]
id = "echo"
name = "Echo"
`

func writePackage(t *testing.T, manifestName, manifestBody string, wasm []byte) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, manifestName), []byte(manifestBody), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "node.wasm"), wasm, 0o644); err != nil {
		t.Fatalf("write node.wasm: %v", err)
	}
	return dir
}

func TestLoader_Load_TOML(t *testing.T) {
	wasm := minimalModule()
	dir := writePackage(t, "manifest.toml", testManifestTOML, wasm)

	result, err := NewLoader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	pkg := result.Package
	if pkg.ID != "com.example.echo" || pkg.Version != "1.0.0" {
		t.Errorf("unexpected package identity: %s %s", pkg.ID, pkg.Version)
	}
	if pkg.Format != FormatCore {
		t.Errorf("expected core format, got %v", pkg.Format)
	}
	if pkg.ContentHash != manifest.ContentHash(wasm) {
		t.Errorf("content hash mismatch")
	}
	if result.Security.Limits.MemoryLimit != 16*1024*1024 {
		t.Errorf("expected 16MiB limit from minimal tier, got %d", result.Security.Limits.MemoryLimit)
	}
	if len(result.WasmBytes) != len(wasm) {
		t.Errorf("expected wasm bytes to be returned")
	}
}

func TestLoader_Load_JSONFallback(t *testing.T) {
	body := `{
		"manifest_version": 1,
		"id": "com.example.echo",
		"name": "Echo",
		"version": "2.0.0",
		"permissions": {"memory": "light", "timeout": "standard"},
		"nodes": [{"id": "echo", "name": "Echo"}]
	}`
	dir := writePackage(t, "manifest.json", body, minimalModule())

	result, err := NewLoader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Package.Version != "2.0.0" {
		t.Errorf("expected version 2.0.0, got %s", result.Package.Version)
	}
}

func TestLoader_Load_MissingManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "node.wasm"), minimalModule(), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewLoader().Load(dir)
	var ioErr *IoError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected *IoError, got %T: %v", err, err)
	}
}

func TestLoader_Load_OAuthMismatchFailsBeforeCompile(t *testing.T) {
	// Give the node entry a provider the package never declares.
	body := strings.Replace(testManifestTOML, "id = \"echo\"\n", "id = \"echo\"\noauth_providers = [\"google\"]\n", 1)
	dir := writePackage(t, "manifest.toml", body, minimalModule())

	_, err := NewLoader().Load(dir)
	var invalid *manifest.ManifestInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *manifest.ManifestInvalidError, got %T: %v", err, err)
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
}

func TestLoader_Load_UnsupportedFormat(t *testing.T) {
	dir := writePackage(t, "manifest.toml", testManifestTOML, []byte("this is not wasm at all"))
	_, err := NewLoader().Load(dir)
	var unsupported *UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected *UnsupportedFormatError, got %T: %v", err, err)
	}
}

func TestLoader_Load_ComponentFormatDetected(t *testing.T) {
	component := []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
	dir := writePackage(t, "manifest.toml", testManifestTOML, component)
	result, err := NewLoader().Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if result.Package.Format != FormatComponent {
		t.Errorf("expected component format, got %v", result.Package.Format)
	}
}

func TestLoader_SidecarHash(t *testing.T) {
	wasm := minimalModule()
	dir := writePackage(t, "manifest.toml", testManifestTOML, wasm)

	// Matching sidecar, in sha256sum's "<hash>  <file>" format.
	sidecar := sha256Hex(wasm) + "  node.wasm\n"
	if err := os.WriteFile(filepath.Join(dir, "node.wasm.sha256"), []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().Load(dir); err != nil {
		t.Errorf("expected matching sidecar to pass, got %v", err)
	}

	// Mismatching sidecar.
	if err := os.WriteFile(filepath.Join(dir, "node.wasm.sha256"), []byte(strings.Repeat("00", 32)), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewLoader().Load(dir)
	var invalid *ManifestInvalidError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ManifestInvalidError for hash mismatch, got %T: %v", err, err)
	}

	// Garbage sidecar content.
	if err := os.WriteFile(filepath.Join(dir, "node.wasm.sha256"), []byte("not-hex!"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().Load(dir); err == nil {
		t.Error("expected non-hex sidecar to fail")
	}
}

func TestLoader_WasmHashInManifest(t *testing.T) {
	wasm := minimalModule()
	// wasm_hash is a top-level key; it must precede the [permissions] table.
	body := "wasm_hash = \"" + manifest.ContentHash(wasm) + "\"\n" + testManifestTOML
	dir := writePackage(t, "manifest.toml", body, wasm)

	if _, err := NewLoader().Load(dir); err != nil {
		t.Errorf("expected manifest wasm_hash to verify, got %v", err)
	}

	wrong := "wasm_hash = \"" + strings.Repeat("ab", 32) + "\"\n" + testManifestTOML
	dir = writePackage(t, "manifest.toml", wrong, wasm)
	if _, err := NewLoader().Load(dir); err == nil {
		t.Error("expected wrong manifest wasm_hash to fail")
	}
}
