package core

import (
	"bloodledger/pkg/domain"
	"context"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithClock(ClockFunc(func() time.Time { return fixedNow }))}, opts...)
	return NewInMemoryService(NewDefaultRulesEngine(), opts...)
}

func donorInput(nationalID, bloodType string) DonorInput {
	return DonorInput{
		NationalID: nationalID,
		Name:       "Donor " + nationalID,
		Email:      nationalID + "@example.com",
		Phone:      "555-0100",
		Address:    "1 Main St",
		BloodType:  bloodType,
		Age:        30,
		Weight:     70,
	}
}

func mustCreateDonor(t *testing.T, svc *Service, in DonorInput) Donor {
	t.Helper()
	donor, _, err := svc.CreateDonor(context.Background(), in)
	if err != nil {
		t.Fatalf("create donor %s: %v", in.NationalID, err)
	}
	return donor
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	l.calls = append(l.calls, level+":"+msg)
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.add("d", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.add("i", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add("w", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add("e", msg) }

func (l *captureLogger) has(call string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		if c == call {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
	c.mu.Unlock()
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type stockCapture struct {
	captureMetricsRecorder
	stock map[domain.BloodType]int
}

func (c *stockCapture) ObserveStock(bt domain.BloodType, units int) {
	c.mu.Lock()
	if c.stock == nil {
		c.stock = make(map[domain.BloodType]int)
	}
	c.stock[bt] = units
	c.mu.Unlock()
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	mu    sync.Mutex
	ended []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.mu.Lock()
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
	s.tracer.mu.Unlock()
}
