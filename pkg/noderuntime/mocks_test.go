package noderuntime

import (
	"context"
	"sync"
)

// recordingInvocationLogger captures every record the engine logs.
type recordingInvocationLogger struct {
	mu      sync.Mutex
	records []*InvocationRecord
}

func (l *recordingInvocationLogger) Log(ctx context.Context, rec *InvocationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

func (l *recordingInvocationLogger) captured() []*InvocationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*InvocationRecord, len(l.records))
	copy(out, l.records)
	return out
}

// staticRateLimiter allows or denies every request.
type staticRateLimiter struct {
	allow bool
	keys  []string
}

func (r *staticRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	r.keys = append(r.keys, key)
	return r.allow, nil
}
