package noderuntime

import (
	"errors"
	"fmt"
)

// Sentinel errors for simple, non-parameterised failure conditions.
var (
	ErrPackageNotFound    = errors.New("package not found")
	ErrNodeNotFound       = errors.New("node not found in package")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrEngineClosed       = errors.New("engine is closed")
	ErrInstancePending    = errors.New("instance is awaiting resumption")
	ErrPendingExpired     = errors.New("pending invocation exceeded its resumption lifetime")
)

// -----------------------------------------------------------------------------
// Compile category
// -----------------------------------------------------------------------------

// UnsupportedFormatError is returned when loaded bytes match neither the core
// nor the component magic.
type UnsupportedFormatError struct {
	PackageID string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("package %q: unsupported WASM format", e.PackageID)
}

// CompileFailedError wraps a wazero compilation failure.
type CompileFailedError struct {
	PackageID string
	Cause     error
}

func (e *CompileFailedError) Error() string {
	return fmt.Sprintf("package %q: compile failed: %v", e.PackageID, e.Cause)
}

func (e *CompileFailedError) Unwrap() error { return e.Cause }

// -----------------------------------------------------------------------------
// Instantiate category
// -----------------------------------------------------------------------------

// MissingExportError describes a required core-ABI export that is absent.
// RunNode does not return it: a missing export reaches callers as *LinkError.
type MissingExportError struct {
	Name string
}

func (e *MissingExportError) Error() string {
	return fmt.Sprintf("missing required export %q", e.Name)
}

// InitTrapError wraps a trap raised while calling _initialize/_start.
// RunNode does not return it: such a trap reaches callers as *LinkError.
type InitTrapError struct {
	Export string
	Cause  error
}

func (e *InitTrapError) Error() string {
	return fmt.Sprintf("trap during %s: %v", e.Export, e.Cause)
}

func (e *InitTrapError) Unwrap() error { return e.Cause }

// LinkError wraps a failure to link the host module imports into the guest.
type LinkError struct {
	Cause error
}

func (e *LinkError) Error() string { return fmt.Sprintf("link error: %v", e.Cause) }
func (e *LinkError) Unwrap() error { return e.Cause }

// -----------------------------------------------------------------------------
// Execute category
// -----------------------------------------------------------------------------

// OutOfFuelError is returned when a guest exhausts its fuel credit
//.
type OutOfFuelError struct {
	Limit uint64
}

func (e *OutOfFuelError) Error() string {
	return fmt.Sprintf("out of fuel (limit %d)", e.Limit)
}

// TimeoutError is returned when an invocation exceeds its timeout tier's
// wall-clock deadline (a context deadline); DurationMS is that tier's length.
type TimeoutError struct {
	DurationMS int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %dms", e.DurationMS)
}

// MemoryAccessError is returned for out-of-bounds guest memory access.
type MemoryAccessError struct {
	Detail string
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("memory access error: %s", e.Detail)
}

// TrapError wraps any other guest trap (e.g. unreachable) by category name.
type TrapError struct {
	Kind  string
	Cause error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap (%s): %v", e.Kind, e.Cause)
}

func (e *TrapError) Unwrap() error { return e.Cause }

// -----------------------------------------------------------------------------
// Protocol category
// -----------------------------------------------------------------------------

// InvalidEncodingError is returned when an exported buffer is not valid
// UTF-8/JSON.
type InvalidEncodingError struct {
	Export string
	Cause  error
}

func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("invalid encoding from export %q: %v", e.Export, e.Cause)
}

func (e *InvalidEncodingError) Unwrap() error { return e.Cause }

// InvalidNodeDefinitionError describes a decoded NodeDefinition that fails
// structural checks. No code path in this module constructs it.
type InvalidNodeDefinitionError struct {
	Detail string
}

func (e *InvalidNodeDefinitionError) Error() string {
	return fmt.Sprintf("invalid node definition: %s", e.Detail)
}

// AbiVersionMismatchError is returned when get_abi_version() does not equal 1
//.
type AbiVersionMismatchError struct {
	Got int32
}

func (e *AbiVersionMismatchError) Error() string {
	return fmt.Sprintf("abi version mismatch: got %d, want 1", e.Got)
}

// -----------------------------------------------------------------------------
// Security category
// -----------------------------------------------------------------------------

// CapabilityDeniedError describes a guest call to a host function without
// the required capability. Host functions report such a denial to the guest
// as an error code; they do not return this type.
type CapabilityDeniedError struct {
	Capability string
	Function   string
}

func (e *CapabilityDeniedError) Error() string {
	return fmt.Sprintf("capability %s denied for host function %q", e.Capability, e.Function)
}

// HostNotAllowedError describes an outbound HTTP host that is not in the
// package's allow-list. http_request reports it to the guest as an error
// code; it does not return this type.
type HostNotAllowedError struct {
	Host string
}

func (e *HostNotAllowedError) Error() string {
	return fmt.Sprintf("host %q is not in the package's allowed_hosts", e.Host)
}

// ManifestInvalidError reports manifest problems the Loader detects itself
// (an unparseable manifest, a bad node.wasm.sha256 sidecar). Failures from
// manifest.Validate reach callers as *manifest.ManifestInvalidError.
type ManifestInvalidError struct {
	Reasons []string
}

func (e *ManifestInvalidError) Error() string {
	return fmt.Sprintf("manifest invalid: %v", e.Reasons)
}

// -----------------------------------------------------------------------------
// Host category
// -----------------------------------------------------------------------------

// UpstreamFailureError wraps a failure from a host-side dependency (HTTP,
// storage, cache, ...) surfaced back to the guest as an error code.
type UpstreamFailureError struct {
	Source string
	Cause  error
}

func (e *UpstreamFailureError) Error() string {
	return fmt.Sprintf("upstream failure (%s): %v", e.Source, e.Cause)
}

func (e *UpstreamFailureError) Unwrap() error { return e.Cause }

// IoError wraps a host-side I/O failure (disk cache, package archive reads).
type IoError struct {
	Cause error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error: %v", e.Cause) }
func (e *IoError) Unwrap() error { return e.Cause }

// ValidationError represents an input validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// IsCapabilityDenied reports whether err is (or wraps) a CapabilityDeniedError.
func IsCapabilityDenied(err error) bool {
	var denied *CapabilityDeniedError
	return errors.As(err, &denied)
}

// IsTimeout reports whether err is (or wraps) a TimeoutError.
func IsTimeout(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}

// IsOutOfFuel reports whether err is (or wraps) an OutOfFuelError.
func IsOutOfFuel(err error) bool {
	var oof *OutOfFuelError
	return errors.As(err, &oof)
}
