package noderuntime

import "testing"

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name  string
		bytes []byte
		want  ModuleFormat
	}{
		{"core", []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0xFF}, FormatCore},
		{"component", []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}, FormatComponent},
		{"truncated", []byte{0x00, 0x61, 0x73}, FormatUnknown},
		{"garbage", []byte("definitely not wasm"), FormatUnknown},
		{"empty", nil, FormatUnknown},
	}
	for _, tc := range cases {
		if got := DetectFormat(tc.bytes); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestExecutionResult_Empty(t *testing.T) {
	empty := &ExecutionResult{}
	if !empty.Empty() {
		t.Error("zero result must be empty")
	}
	withError := &ExecutionResult{Error: "boom"}
	if withError.Empty() {
		t.Error("result with error is not empty")
	}
	pending := &ExecutionResult{Pending: true}
	if pending.Empty() {
		t.Error("pending result is not empty")
	}
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("default config must validate, got %v", errs)
	}
	if cfg.ModuleCacheMemoryEntries != 128 || cfg.PendingResumptionMultiplier != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	bad := Config{}
	bad.ApplyDefaults()
	bad.MaxConcurrentInstances = -1
	bad.EpochIntervalMS = -5
	if errs := bad.Validate(); len(errs) != 2 {
		t.Errorf("expected 2 validation errors, got %v", errs)
	}

	// Copy-setters leave the receiver untouched.
	base := DefaultConfig()
	modified := base.WithModuleCacheMemoryEntries(7)
	if base.ModuleCacheMemoryEntries == 7 {
		t.Error("WithModuleCacheMemoryEntries must not mutate the receiver")
	}
	if modified.ModuleCacheMemoryEntries != 7 {
		t.Error("WithModuleCacheMemoryEntries must apply to the copy")
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsCapabilityDenied(&CapabilityDeniedError{Capability: "HTTP", Function: "http_request"}) {
		t.Error("IsCapabilityDenied failed on direct error")
	}
	if !IsTimeout(&TimeoutError{DurationMS: 5000}) {
		t.Error("IsTimeout failed on direct error")
	}
	if !IsOutOfFuel(&OutOfFuelError{Limit: 1_000_000}) {
		t.Error("IsOutOfFuel failed on direct error")
	}
	if IsTimeout(&OutOfFuelError{}) {
		t.Error("IsTimeout misclassified an OutOfFuelError")
	}
}
