package core

import (
	"context"
	"errors"
	"time"

	"bloodledger/internal/infra/persistence/memory"
	"bloodledger/pkg/domain"

	"github.com/cenkalti/backoff/v4"
)

type (
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Result aliases domain.Result returned by mutating operations.
	Result = domain.Result
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

// Service exposes the ledger operations: donor registry, donation ledger,
// inventory, request fulfillment, events and read projections.
type Service struct {
	store   PersistentStore
	engine  *RulesEngine
	now     func() time.Time
	logger  Logger
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
	retry   RetryPolicy
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:   store,
		engine:  extractRulesEngine(store),
		now:     selectNowFunc(store, o.clock),
		logger:  o.logger,
		audit:   o.audit,
		metrics: o.metrics,
		tracer:  o.tracer,
		retry:   o.retry,
	}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// RulesEngine returns the engine evaluated by the store, if it exposes one.
func (s *Service) RulesEngine() *RulesEngine {
	return s.engine
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

type rulesEngineProvider interface {
	RulesEngine() *RulesEngine
}

type nowFuncProvider interface {
	NowFunc() func() time.Time
}

func extractRulesEngine(store PersistentStore) *RulesEngine {
	if p, ok := store.(rulesEngineProvider); ok {
		return p.RulesEngine()
	}
	return nil
}

// selectNowFunc prefers an explicit clock, then the store's own time source,
// then system UTC time.
func selectNowFunc(store PersistentStore, clock Clock) func() time.Time {
	if clock != nil {
		return clock.Now
	}
	if p, ok := store.(nowFuncProvider); ok {
		if fn := p.NowFunc(); fn != nil {
			return func() time.Time { return fn().UTC() }
		}
	}
	return func() time.Time { return time.Now().UTC() }
}

// operation describes a service call for audit purposes.
type operation struct {
	name   string
	entity domain.EntityType
	action domain.Action
}

// mutating operations are audited; reads are only traced and measured.
func (op operation) audited() bool {
	return op.action != ""
}

// run wraps fn with tracing, metrics, logging, audit and transient retries.
// fn returns the affected entity ID for the audit trail.
func (s *Service) run(ctx context.Context, op operation, fn func(ctx context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op.name)
	start := time.Now()
	entityID, err := s.withRetry(ctx, op, fn)
	duration := time.Since(start)
	span.End(err)
	s.metrics.Observe(ctx, op.name, err == nil, duration)

	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindInternal || kind == domain.KindTransient {
			s.logger.Error("operation failed", "operation", op.name, "kind", kind, "error", err)
		} else {
			s.logger.Warn("operation rejected", "operation", op.name, "kind", kind, "error", err)
		}
	} else {
		s.logger.Debug("operation completed", "operation", op.name, "entity_id", entityID, "duration", duration)
	}

	if op.audited() {
		entry := AuditEntry{
			Operation: op.name,
			Entity:    op.entity,
			Action:    op.action,
			EntityID:  entityID,
			Status:    AuditStatusSuccess,
			Duration:  duration,
			Timestamp: s.now(),
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.audit.Record(ctx, entry)
	}
	return err
}

func (s *Service) withRetry(ctx context.Context, op operation, fn func(ctx context.Context) (string, error)) (string, error) {
	attempts := s.retry.Attempts
	if attempts <= 1 {
		return fn(ctx)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.retry.InitialInterval
	eb.MaxInterval = s.retry.MaxInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var entityID string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		id, err := fn(ctx)
		if err == nil {
			entityID = id
			return nil
		}
		if !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("transient failure", "operation", op.name, "attempt", attempt, "error", err)
		return err
	}, policy)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && !domain.IsTransient(err) {
		err = domain.Wrap(err, domain.KindTransient, op.name+" aborted")
	}
	return entityID, err
}

// mutate runs fn inside one store transaction through the run wrapper.
func (s *Service) mutate(ctx context.Context, op operation, fn func(tx Transaction) (string, error)) (Result, error) {
	var res Result
	err := s.run(ctx, op, func(ctx context.Context) (string, error) {
		var id string
		r, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			id, err = fn(tx)
			return err
		})
		res = r
		return id, err
	})
	if err == nil && len(res.Violations) > 0 {
		for _, v := range res.Violations {
			s.logger.Warn("rule violation", "operation", op.name, "rule", v.Rule, "severity", v.Severity, "message", v.Message)
		}
	}
	return res, err
}

// read runs fn against a store view through the run wrapper.
func (s *Service) read(ctx context.Context, name string, fn func(v TransactionView) error) error {
	return s.run(ctx, operation{name: name}, func(ctx context.Context) (string, error) {
		return "", s.store.View(ctx, fn)
	})
}
