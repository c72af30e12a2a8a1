package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	allocationapp "github.com/erp/payalloc/internal/application/allocation"
	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	batchimport "github.com/erp/payalloc/internal/infrastructure/import"
	"github.com/erp/payalloc/internal/infrastructure/logger"
	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkerLimit = 8
	defaultMaxRows     = 5000
)

// errRowsFailed aborts an all-or-nothing import after a row failed to record
var errRowsFailed = errors.New("batch rows failed to record")

// optionStrategies need per-request options that a batch row cannot carry
var optionStrategies = map[string]bool{
	strategy.AllocationPercentageBased: true,
	strategy.AllocationCustomPriority:  true,
}

// PaymentRecorder creates one payment, optionally auto-allocating it in the
// same transaction
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, actx allocationapp.AllocationContext, req allocationapp.RecordPaymentRequest) (*allocationapp.RecordPaymentResult, error)
}

// SourceArchiver keeps a copy of an uploaded batch file and returns its key
type SourceArchiver interface {
	Archive(ctx context.Context, tenantID uuid.UUID, batchNumber, filename, contentType string, data []byte) (string, error)
}

// BatchService imports payment batches. Entries are validated in parallel.
// Without all_or_nothing every valid entry is recorded in its own
// transaction, so one bad row never rolls back the others. With it the
// whole batch is written in one transaction.
type BatchService struct {
	batches    allocation.BatchRepository
	recorder   PaymentRecorder
	txScope    allocationapp.TransactionScope
	strategies allocationapp.StrategyResolver
	validator  *batchimport.EntryValidator

	archiver        SourceArchiver
	events          shared.EventPublisher
	metrics         *telemetry.AllocationMetrics
	idempotency     *allocationapp.IdempotencyGuard
	logger          *zap.Logger
	defaultCurrency valueobject.Currency
	workerLimit     int
	maxRows         int
	now             func() time.Time
}

// Option configures a BatchService
type Option func(*BatchService)

// WithArchiver archives uploaded source files
func WithArchiver(a SourceArchiver) Option {
	return func(s *BatchService) { s.archiver = a }
}

// WithEventPublisher publishes BatchImported events
func WithEventPublisher(p shared.EventPublisher) Option {
	return func(s *BatchService) { s.events = p }
}

// WithMetrics records batch metrics
func WithMetrics(m *telemetry.AllocationMetrics) Option {
	return func(s *BatchService) { s.metrics = m }
}

// WithIdempotencyGuard enables Idempotency-Key checks on imports
func WithIdempotencyGuard(g *allocationapp.IdempotencyGuard) Option {
	return func(s *BatchService) { s.idempotency = g }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *BatchService) { s.logger = l }
}

// WithDefaultCurrency sets the batch currency used when an import names none
func WithDefaultCurrency(c valueobject.Currency) Option {
	return func(s *BatchService) { s.defaultCurrency = c }
}

// WithLimits bounds row concurrency and batch size. Zero keeps the default.
func WithLimits(workers, maxRows int) Option {
	return func(s *BatchService) {
		if workers > 0 {
			s.workerLimit = workers
		}
		if maxRows > 0 {
			s.maxRows = maxRows
		}
	}
}

// WithClock overrides "now", which dates batch numbers
func WithClock(now func() time.Time) Option {
	return func(s *BatchService) { s.now = now }
}

// NewBatchService creates a new BatchService. recorder must join the
// transaction carried by its context for all_or_nothing imports to be atomic.
func NewBatchService(
	batches allocation.BatchRepository,
	recorder PaymentRecorder,
	txScope allocationapp.TransactionScope,
	strategies allocationapp.StrategyResolver,
	opts ...Option,
) *BatchService {
	s := &BatchService{
		batches:         batches,
		recorder:        recorder,
		txScope:         txScope,
		strategies:      strategies,
		logger:          zap.NewNop(),
		defaultCurrency: valueobject.DefaultCurrency,
		workerLimit:     defaultWorkerLimit,
		maxRows:         defaultMaxRows,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = batchimport.NewEntryValidator(s.defaultCurrency)
	return s
}

// MaxRows is the largest accepted batch
func (s *BatchService) MaxRows() int {
	return s.maxRows
}

// ImportBatch validates entries and, unless this is a dry run or an
// all-or-nothing import with invalid rows, records a payment for every valid
// entry under a new PaymentBatch. An all-or-nothing import whose rows fail
// while being recorded is rolled back and reported as rejected.
func (s *BatchService) ImportBatch(
	ctx context.Context,
	actx allocationapp.AllocationContext,
	entries []batchimport.PaymentEntry,
	sourceType allocation.SourceType,
	opts ImportOptions,
) (*ImportResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "batch", "import",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrSourceType, string(sourceType),
		telemetry.SpanAttrBatchRows, len(entries),
		telemetry.SpanAttrDryRun, opts.DryRun,
	)
	defer span.End()

	if err := s.checkRequest(actx, entries, sourceType); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	currency := s.defaultCurrency
	if opts.Currency != "" {
		c, err := valueobject.ParseCurrency(opts.Currency)
		if err != nil {
			err = shared.NewDomainError("INVALID_CURRENCY", err.Error())
			telemetry.RecordError(span, err)
			return nil, err
		}
		currency = c
	}

	finish, err := s.idempotency.Acquire(ctx, "import_batch", actx.TenantID, opts.IdempotencyKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var result *ImportResult
	telemetry.WithProfilingLabels(ctx, telemetry.AllocationOperationLabels("import_batch", ""), func(ctx context.Context) {
		result, err = s.importBatch(ctx, actx, entries, sourceType, currency, opts)
	})
	finish(ctx, err == nil && !result.Rejected())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if result.Batch != nil {
		telemetry.SetAttributes(span, telemetry.SpanAttrBatchID, result.Batch.ID.String())
	}
	telemetry.SetOK(span)
	return result, nil
}

func (s *BatchService) checkRequest(actx allocationapp.AllocationContext, entries []batchimport.PaymentEntry, sourceType allocation.SourceType) error {
	if err := actx.Validate(); err != nil {
		return err
	}
	if !sourceType.IsValid() {
		return shared.NewDomainError("INVALID_SOURCE_TYPE", fmt.Sprintf("Source type '%s' is not valid", sourceType))
	}
	if len(entries) == 0 {
		return shared.NewDomainError(shared.ErrInvalidInput.Code, "Batch contains no entries")
	}
	if len(entries) > s.maxRows {
		return shared.NewDomainError("BATCH_TOO_LARGE",
			fmt.Sprintf("Batch has %d entries, at most %d are accepted", len(entries), s.maxRows))
	}
	return nil
}

func (s *BatchService) importBatch(
	ctx context.Context,
	actx allocationapp.AllocationContext,
	entries []batchimport.PaymentEntry,
	sourceType allocation.SourceType,
	currency valueobject.Currency,
	opts ImportOptions,
) (*ImportResult, error) {
	parsed, summary, err := s.validate(ctx, entries, currency)
	if err != nil {
		return nil, err
	}
	result := &ImportResult{Validation: summary, Payments: []RowOutcome{}}

	switch {
	case opts.DryRun:
		result.Status = ResultDryRun
		return result, nil
	case opts.AllOrNothing && summary.ErrorCount > 0:
		result.Status = ResultRejected
		s.metrics.RecordBatch(ctx, string(sourceType), 0, summary.ErrorCount)
		s.log(ctx).Info("batch rejected",
			zap.Int("rows", summary.TotalRows),
			zap.Int("invalid_rows", summary.ErrorCount))
		return result, nil
	}

	var (
		b              *allocation.PaymentBatch
		processingErrs map[int]string
	)
	if opts.AllOrNothing {
		err = s.txScope.Run(ctx, func(txCtx context.Context, repos allocationapp.TransactionalRepositories) error {
			var werr error
			b, processingErrs, werr = s.write(txCtx, repos.BatchRepo(), actx, sourceType, currency, summary, parsed, result, opts, 1)
			if werr != nil {
				return werr
			}
			if len(processingErrs) > 0 {
				return errRowsFailed
			}
			return nil
		})
		if errors.Is(err, errRowsFailed) {
			result.Status = ResultRejected
			result.Payments = []RowOutcome{}
			result.ProcessingErrors = processingErrs
			s.metrics.RecordBatch(ctx, string(sourceType), 0, summary.ErrorCount+len(processingErrs))
			s.log(ctx).Info("batch rolled back",
				zap.Int("rows", summary.TotalRows),
				zap.Int("failed_rows", len(processingErrs)))
			return result, nil
		}
	} else {
		b, processingErrs, err = s.write(ctx, s.batches, actx, sourceType, currency, summary, parsed, result, opts, s.workerLimit)
	}
	if err != nil {
		return nil, err
	}

	events := b.GetDomainEvents()
	b.ClearDomainEvents()
	if s.events != nil && len(events) > 0 {
		if err := s.events.Publish(ctx, events...); err != nil {
			s.log(ctx).Warn("failed to publish batch events", zap.Error(err))
		}
	}
	s.metrics.RecordBatch(ctx, string(sourceType), b.ReceiptCount, summary.ErrorCount+len(processingErrs))

	result.Status = string(b.Status)
	result.Batch = b
	result.ProcessingErrors = processingErrs
	s.log(ctx).Info("batch imported",
		zap.String("batch_number", b.BatchNumber),
		zap.String("status", string(b.Status)),
		zap.Int("receipts", b.ReceiptCount),
		zap.String("total_amount", b.TotalAmount.String()))
	return result, nil
}

// write opens the batch, records its rows with up to workers in flight and
// saves the finished batch through batches
func (s *BatchService) write(
	ctx context.Context,
	batches allocation.BatchRepository,
	actx allocationapp.AllocationContext,
	sourceType allocation.SourceType,
	currency valueobject.Currency,
	summary allocation.ValidationSummary,
	parsed []*batchimport.ParsedEntry,
	result *ImportResult,
	opts ImportOptions,
	workers int,
) (*allocation.PaymentBatch, map[int]string, error) {
	b, err := s.openBatch(ctx, batches, actx, sourceType, currency, summary, opts)
	if err != nil {
		return nil, nil, err
	}

	processingErrs := s.record(ctx, actx, b, parsed, result, workers)
	if opts.AllOrNothing && len(processingErrs) > 0 {
		return b, processingErrs, nil
	}
	s.archive(ctx, actx, b, opts)

	b.Metadata.ProcessingErrs = processingErrs
	if err := b.Finish(summary.ErrorCount + len(processingErrs)); err != nil {
		return nil, nil, err
	}
	if err := batches.Save(ctx, b); err != nil {
		return nil, nil, fmt.Errorf("failed to save batch: %w", err)
	}
	return b, processingErrs, nil
}

// validate checks every entry in parallel. parsed is indexed like entries
// and holds nil for invalid ones.
func (s *BatchService) validate(ctx context.Context, entries []batchimport.PaymentEntry, currency valueobject.Currency) ([]*batchimport.ParsedEntry, allocation.ValidationSummary, error) {
	parsed := make([]*batchimport.ParsedEntry, len(entries))
	rowErrs := make([][]batchimport.RowError, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workerLimit)
	for i, e := range entries {
		if e.Row == 0 {
			e.Row = i + 1
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, errs := s.validator.Validate(e)
			if p != nil && p.Currency != currency {
				errs = append(errs, batchimport.NewRowError(e.Row, "currency", batchimport.ErrCodeInvalidValue,
					fmt.Sprintf("currency %s does not match batch currency %s", p.Currency, currency)))
				p = nil
			}
			if p != nil && p.AutoAllocate {
				if re := s.checkStrategy(p); re != nil {
					errs = append(errs, *re)
					p = nil
				}
			}
			parsed[i], rowErrs[i] = p, errs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, allocation.ValidationSummary{}, err
	}

	collected := batchimport.NewErrorCollection(len(entries) * 10)
	for _, errs := range rowErrs {
		collected.AddAll(errs)
	}
	domainErrs := make([]allocation.RowError, 0, collected.Count())
	for _, re := range collected.Errors() {
		domainErrs = append(domainErrs, allocation.RowError{Row: re.Row, Field: re.Column, Message: re.Message})
	}
	return parsed, allocation.NewValidationSummary(len(entries), domainErrs), nil
}

// checkStrategy rejects strategies the allocation service would refuse
// when the row is written
func (s *BatchService) checkStrategy(p *batchimport.ParsedEntry) *batchimport.RowError {
	if optionStrategies[p.AllocationStrategy] {
		re := batchimport.NewRowError(p.Row, "allocation_strategy", batchimport.ErrCodeInvalidValue,
			fmt.Sprintf("strategy %s needs per-request options and cannot be used in a batch", p.AllocationStrategy))
		return &re
	}
	if s.strategies == nil {
		return nil
	}
	if _, err := s.strategies.GetAllocationStrategy(p.AllocationStrategy); err != nil {
		re := batchimport.NewRowError(p.Row, "allocation_strategy", batchimport.ErrCodeInvalidValue,
			fmt.Sprintf("strategy %s is not registered", p.AllocationStrategy))
		return &re
	}
	return nil
}

// openBatch persists a processing batch so payments can reference it
func (s *BatchService) openBatch(
	ctx context.Context,
	batches allocation.BatchRepository,
	actx allocationapp.AllocationContext,
	sourceType allocation.SourceType,
	currency valueobject.Currency,
	summary allocation.ValidationSummary,
	opts ImportOptions,
) (*allocation.PaymentBatch, error) {
	number, err := batches.GenerateBatchNumber(ctx, actx.TenantID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate batch number: %w", err)
	}
	b, err := allocation.NewPaymentBatch(actx.TenantID, number, sourceType, currency)
	if err != nil {
		return nil, err
	}
	if actx.ActorID != uuid.Nil {
		b.SetCreatedBy(actx.ActorID)
	}
	b.Notes = opts.Notes
	b.Metadata.Validation = summary
	b.Metadata.AllOrNothing = opts.AllOrNothing
	b.Metadata.SourceFile = opts.SourceFile

	if err := b.StartProcessing(); err != nil {
		return nil, err
	}
	if err := batches.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to save batch: %w", err)
	}
	return b, nil
}

// archive stores the uploaded source once the rows are recorded. The import
// itself does not depend on the archive.
func (s *BatchService) archive(ctx context.Context, actx allocationapp.AllocationContext, b *allocation.PaymentBatch, opts ImportOptions) {
	if s.archiver == nil || len(opts.SourceContent) == 0 {
		return
	}
	key, err := s.archiver.Archive(ctx, actx.TenantID, b.BatchNumber, opts.SourceFile, opts.SourceContentType, opts.SourceContent)
	if err != nil {
		s.log(ctx).Warn("failed to archive batch source", zap.String("batch_number", b.BatchNumber), zap.Error(err))
		return
	}
	b.Metadata.SourceObjectKey = key
}

// record creates the payments of all valid entries and returns the
// processing error of every entry that failed
func (s *BatchService) record(
	ctx context.Context,
	actx allocationapp.AllocationContext,
	b *allocation.PaymentBatch,
	parsed []*batchimport.ParsedEntry,
	result *ImportResult,
	workers int,
) map[int]string {
	var (
		mu   sync.Mutex
		errs = make(map[int]string)
	)
	fail := func(row int, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs[row] = err.Error()
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, p := range parsed {
		if p == nil {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(p.Row, err)
				return nil
			}
			res, err := s.recorder.RecordPayment(ctx, actx, allocationapp.RecordPaymentRequest{
				CustomerID:      p.CustomerID,
				Amount:          p.Amount,
				Currency:        p.Currency.String(),
				PaymentMethod:   p.PaymentMethod.String(),
				PaymentDate:     p.PaymentDate,
				ReferenceNumber: p.ReferenceNumber,
				Notes:           p.Notes,
				BatchID:         &b.ID,
				AutoAllocate:    p.AutoAllocate,
				Strategy:        p.AllocationStrategy,
			})
			if err != nil {
				s.log(ctx).Warn("batch entry failed", zap.Int("row", p.Row), zap.Error(err))
				fail(p.Row, err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if err := b.RecordPayment(res.Payment); err != nil {
				errs[p.Row] = err.Error()
				return nil
			}
			b.Metadata.AllocatedCount += len(res.Allocations)
			result.Payments = append(result.Payments, RowOutcome{
				Row:            p.Row,
				PaymentID:      res.Payment.ID,
				PaymentNumber:  res.Payment.PaymentNumber,
				Amount:         res.Payment.Amount,
				AllocatedCount: len(res.Allocations),
				Strategy:       res.Strategy,
			})
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(result.Payments, func(a, b RowOutcome) int { return a.Row - b.Row })
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// GetBatch returns a batch by ID
func (s *BatchService) GetBatch(ctx context.Context, actx allocationapp.AllocationContext, id uuid.UUID) (*allocation.PaymentBatch, error) {
	if err := actx.Validate(); err != nil {
		return nil, err
	}
	return s.batches.FindByID(ctx, actx.TenantID, id)
}

// ListBatches returns a page of batches
func (s *BatchService) ListBatches(ctx context.Context, actx allocationapp.AllocationContext, filter allocation.BatchFilter) (shared.Paginated[allocation.PaymentBatch], error) {
	if err := actx.Validate(); err != nil {
		return shared.Paginated[allocation.PaymentBatch]{}, err
	}
	if filter.Status != nil && !filter.Status.IsValid() {
		return shared.Paginated[allocation.PaymentBatch]{}, shared.NewDomainError(shared.ErrInvalidInput.Code,
			fmt.Sprintf("Batch status '%s' is not valid", *filter.Status))
	}
	if filter.SourceType != nil && !filter.SourceType.IsValid() {
		return shared.Paginated[allocation.PaymentBatch]{}, shared.NewDomainError(shared.ErrInvalidInput.Code,
			fmt.Sprintf("Source type '%s' is not valid", *filter.SourceType))
	}
	filter.Filter = filter.Filter.Normalize()
	items, total, err := s.batches.FindAll(ctx, actx.TenantID, filter)
	if err != nil {
		return shared.Paginated[allocation.PaymentBatch]{}, fmt.Errorf("failed to list batches: %w", err)
	}
	return shared.NewPaginated(items, total, filter.Page, filter.PageSize), nil
}

func (s *BatchService) log(ctx context.Context) *zap.Logger {
	return logger.Enrich(ctx, s.logger)
}
