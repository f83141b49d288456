// Package mutation применяет CRUD-команды к версионированному хранилищу через цепочку правил.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/lms/internal/domain"
	"github.com/vladislavdragonenkov/lms/internal/metrics"
)

const tracerName = "github.com/vladislavdragonenkov/lms/internal/service/mutation"

// Rules: правила обновления и удаления сущности.
type Rules[T any] interface {
	EvaluateUpdate(current, proposed T) (T, error)
	EvaluateDelete(current T) error
}

// RevisionPublisher отправляет ревизию после успешной мутации.
type RevisionPublisher[T domain.Entity] interface {
	Publish(ctx context.Context, eventType domain.EventType, record domain.Record[T]) error
}

// normalizer реализуют сущности со значениями по умолчанию.
type normalizer[T any] interface {
	Normalize() T
}

// Options задает зависимости исполнителя.
type Options[T domain.Entity] struct {
	Logger    *log.Entry
	Retry     RetryConfig
	Publisher RevisionPublisher[T]
	Audit     domain.AuditRepository
	Metrics   *metrics.MutationMetrics
	Tracer    trace.Tracer
}

// Option настраивает Executor.
type Option[T domain.Entity] func(*Options[T])

func WithLogger[T domain.Entity](logger *log.Entry) Option[T] {
	return func(opts *Options[T]) {
		opts.Logger = logger
	}
}

func WithRetry[T domain.Entity](cfg RetryConfig) Option[T] {
	return func(opts *Options[T]) {
		opts.Retry = cfg
	}
}

// WithPublisher задает публикатор ревизий. Без него ревизии не отправляются.
func WithPublisher[T domain.Entity](publisher RevisionPublisher[T]) Option[T] {
	return func(opts *Options[T]) {
		opts.Publisher = publisher
	}
}

// WithAudit включает журнал исходов мутаций.
func WithAudit[T domain.Entity](audit domain.AuditRepository) Option[T] {
	return func(opts *Options[T]) {
		opts.Audit = audit
	}
}

func WithMetrics[T domain.Entity](m *metrics.MutationMetrics) Option[T] {
	return func(opts *Options[T]) {
		opts.Metrics = m
	}
}

func WithTracer[T domain.Entity](tracer trace.Tracer) Option[T] {
	return func(opts *Options[T]) {
		opts.Tracer = tracer
	}
}

// Executor выполняет create/update/delete над одним типом сущности.
type Executor[T domain.Entity] struct {
	kind      domain.Kind
	repo      domain.Repository[T]
	rules     Rules[T]
	retry     RetryConfig
	publisher RevisionPublisher[T]
	audit     domain.AuditRepository
	metrics   *metrics.MutationMetrics
	tracer    trace.Tracer
	logger    *log.Entry
	now       func() time.Time
}

// NewExecutor создаёт исполнитель мутаций для kind.
func NewExecutor[T domain.Entity](kind domain.Kind, repo domain.Repository[T], rules Rules[T], options ...Option[T]) *Executor[T] {
	opts := Options[T]{Retry: DefaultRetryConfig()}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "mutation-executor")
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	return &Executor[T]{
		kind:      kind,
		repo:      repo,
		rules:     rules,
		retry:     opts.Retry.normalized(),
		publisher: opts.Publisher,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		tracer:    tracer,
		logger:    logger.WithField("kind", kind),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Kind возвращает тип сущности исполнителя.
func (e *Executor[T]) Kind() domain.Kind {
	return e.kind
}

// Get читает запись по ключу.
func (e *Executor[T]) Get(ctx context.Context, key int) (domain.Record[T], error) {
	if err := domain.ValidateKey(e.kind, key); err != nil {
		return domain.Record[T]{}, err
	}
	return e.repo.Get(ctx, key)
}

// List возвращает до limit записей по возрастанию ключа.
func (e *Executor[T]) List(ctx context.Context, limit int) ([]domain.Record[T], error) {
	return e.repo.List(ctx, limit)
}

// Create сохраняет новую запись и публикует ревизию CREATE.
func (e *Executor[T]) Create(ctx context.Context, payload T) (created domain.Record[T], err error) {
	ctx, finish := e.begin(ctx, domain.EventCreate, payload.Key())
	defer func() { finish(created.Version, err, false) }()

	if err := domain.ValidateKey(e.kind, payload.Key()); err != nil {
		return domain.Record[T]{}, err
	}
	payload = normalize(payload)

	e.metrics.RecordAttempt(string(e.kind), opName(domain.EventCreate))
	created, err = e.repo.Create(ctx, domain.NewRecord(payload))
	if err != nil {
		return domain.Record[T]{}, err
	}

	e.publish(ctx, domain.EventCreate, created)
	return created, nil
}

// Update применяет правила к текущей записи и сохраняет результат.
// При конфликте версий весь цикл повторяется. Ревизия UPDATE несёт запись до изменения.
func (e *Executor[T]) Update(ctx context.Context, payload T) (saved domain.Record[T], err error) {
	key := payload.Key()
	ctx, finish := e.begin(ctx, domain.EventUpdate, key)
	defer func() { finish(saved.Version, err, false) }()

	if err := domain.ValidateKey(e.kind, key); err != nil {
		return domain.Record[T]{}, err
	}

	var snapshot domain.Record[T]
	err = e.withRetry(ctx, domain.EventUpdate, key, func() error {
		current, getErr := e.repo.Get(ctx, key)
		if getErr != nil {
			return getErr
		}
		snapshot = current

		working, ruleErr := e.rules.EvaluateUpdate(current.Data, payload)
		if ruleErr != nil {
			return ruleErr
		}
		current.Data = working

		var saveErr error
		saved, saveErr = e.repo.Save(ctx, current)
		return saveErr
	})
	if err != nil {
		return domain.Record[T]{}, err
	}

	e.publish(ctx, domain.EventUpdate, snapshot)
	return saved, nil
}

// Delete удаляет запись, если правила разрешают. Отсутствующая запись не считается ошибкой.
func (e *Executor[T]) Delete(ctx context.Context, key int) (err error) {
	ctx, finish := e.begin(ctx, domain.EventDelete, key)
	var (
		deleted domain.Record[T]
		absent  bool
	)
	defer func() { finish(deleted.Version, err, absent) }()

	if err := domain.ValidateKey(e.kind, key); err != nil {
		return err
	}

	err = e.withRetry(ctx, domain.EventDelete, key, func() error {
		current, getErr := e.repo.Get(ctx, key)
		if errors.Is(getErr, domain.ErrNotFound) {
			absent = true
			return nil
		}
		if getErr != nil {
			return getErr
		}

		if ruleErr := e.rules.EvaluateDelete(current.Data); ruleErr != nil {
			return ruleErr
		}

		delErr := e.repo.Delete(ctx, current)
		if errors.Is(delErr, domain.ErrNotFound) {
			absent = true
			return nil
		}
		if delErr == nil {
			deleted = current
		}
		return delErr
	})
	if err != nil {
		return err
	}
	if absent {
		e.logger.WithField("key", key).Debug("delete of absent entity ignored")
		return nil
	}

	e.publish(ctx, domain.EventDelete, deleted)
	return nil
}

// withRetry повторяет op, пока она завершается конфликтом версий.
func (e *Executor[T]) withRetry(ctx context.Context, op domain.EventType, key int, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		e.metrics.RecordAttempt(string(e.kind), opName(op))

		err = fn()
		if !domain.IsVersionConflict(err) {
			return err
		}
		if attempt == e.retry.MaxAttempts {
			break
		}

		e.logger.WithFields(log.Fields{
			"key":     key,
			"op":      opName(op),
			"attempt": attempt,
		}).Warn("version conflict detected, retrying")

		if waitErr := wait(ctx, e.retry.Delay); waitErr != nil {
			return waitErr
		}
	}

	return fmt.Errorf("%s %s %d: giving up after %d attempts: %w", e.kind, opName(op), key, e.retry.MaxAttempts, err)
}

func (e *Executor[T]) publish(ctx context.Context, eventType domain.EventType, record domain.Record[T]) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, eventType, record); err != nil {
		// Мутация уже зафиксирована; ревизия остаётся в outbox, если он настроен.
		e.logger.WithError(err).WithFields(log.Fields{
			"key":   record.Key(),
			"event": eventType,
		}).Warn("failed to publish revision")
	}
}

// begin открывает span и возвращает функцию, фиксирующую исход операции.
// skipped означает, что операция ничего не изменила (удаление отсутствующей записи).
func (e *Executor[T]) begin(ctx context.Context, op domain.EventType, key int) (context.Context, func(version int64, err error, skipped bool)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "mutation."+opName(op), trace.WithAttributes(
		attribute.String("lms.kind", string(e.kind)),
		attribute.Int("lms.key", key),
	))

	return ctx, func(version int64, err error, skipped bool) {
		defer span.End()

		result := resultOf(err)
		if skipped && err == nil {
			result = domain.AuditResultSkipped
		}
		e.metrics.RecordMutation(string(e.kind), opName(op), string(result), time.Since(start))

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logOutcome(op, key, err)
			e.record(ctx, op, key, result, err.Error(), version)
			return
		}
		reason := ""
		if skipped {
			reason = "absent"
		}
		e.record(ctx, op, key, result, reason, version)
	}
}

func (e *Executor[T]) logOutcome(op domain.EventType, key int, err error) {
	entry := e.logger.WithError(err).WithFields(log.Fields{
		"key": key,
		"op":  opName(op),
	})
	switch {
	case domain.IsVersionConflict(err):
		entry.Error("mutation failed: version conflict persisted")
	case domain.IsPermanent(err):
		entry.Info("mutation rejected")
	default:
		entry.Error("mutation failed")
	}
}

func (e *Executor[T]) record(ctx context.Context, op domain.EventType, key int, result domain.AuditResult, reason string, version int64) {
	if e.audit == nil {
		return
	}
	entry := domain.AuditEntry{
		Kind:      e.kind,
		Key:       key,
		Operation: op,
		Result:    result,
		Reason:    reason,
		Version:   version,
		Occurred:  e.now(),
	}
	if err := e.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("append audit entry failed")
	}
}

func resultOf(err error) domain.AuditResult {
	switch {
	case err == nil:
		return domain.AuditResultApplied
	case domain.IsVersionConflict(err):
		return domain.AuditResultFailed
	case domain.IsPermanent(err):
		return domain.AuditResultRejected
	default:
		return domain.AuditResultFailed
	}
}

func opName(op domain.EventType) string {
	switch op {
	case domain.EventCreate:
		return "create"
	case domain.EventUpdate:
		return "update"
	case domain.EventDelete:
		return "delete"
	default:
		return string(op)
	}
}

func normalize[T domain.Entity](payload T) T {
	if n, ok := any(payload).(normalizer[T]); ok {
		return n.Normalize()
	}
	return payload
}
