package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/erp/payalloc/internal/infrastructure/logger"
	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// maxAutoAttempts bounds re-proposals when balances moved between the
// proposal and the locked execution
const maxAutoAttempts = 2

// StrategyResolver looks up allocation strategies by name
type StrategyResolver interface {
	GetAllocationStrategy(name string) (strategy.PaymentAllocationStrategy, error)
	AllocationStrategies() []strategy.PaymentAllocationStrategy
	GetDefault() string
}

// AllocationService allocates payments to invoices. Every write runs in one
// transaction that locks the payment first and then its invoices in ascending
// ID order, so concurrent requests on overlapping invoices serialize instead
// of deadlocking.
type AllocationService struct {
	payments    allocation.PaymentRepository
	invoices    allocation.InvoiceGateway
	allocations allocation.AllocationRepository
	txScope     TransactionScope
	strategies  StrategyResolver
	validator   *allocation.Validator

	auditLogs       allocation.AuditLogRepository
	events          shared.EventPublisher
	metrics         *telemetry.AllocationMetrics
	idempotency     *IdempotencyGuard
	logger          *zap.Logger
	defaultCurrency valueobject.Currency
	now             func() time.Time
}

// Option configures an AllocationService
type Option func(*AllocationService)

// WithEventPublisher publishes domain events after each commit
func WithEventPublisher(p shared.EventPublisher) Option {
	return func(s *AllocationService) { s.events = p }
}

// WithAuditLog enables GetAuditTrail
func WithAuditLog(repo allocation.AuditLogRepository) Option {
	return func(s *AllocationService) { s.auditLogs = repo }
}

// WithMetrics records allocation metrics
func WithMetrics(m *telemetry.AllocationMetrics) Option {
	return func(s *AllocationService) { s.metrics = m }
}

// WithIdempotencyGuard enables Idempotency-Key checks on execute and auto-allocate
func WithIdempotencyGuard(g *IdempotencyGuard) Option {
	return func(s *AllocationService) { s.idempotency = g }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *AllocationService) { s.logger = l }
}

// WithDefaultCurrency sets the currency used when a payment names none
func WithDefaultCurrency(c valueobject.Currency) Option {
	return func(s *AllocationService) { s.defaultCurrency = c }
}

// WithClock overrides "now", which is the default AsOf for overdue strategies
func WithClock(now func() time.Time) Option {
	return func(s *AllocationService) { s.now = now }
}

// NewAllocationService creates a new AllocationService
func NewAllocationService(
	payments allocation.PaymentRepository,
	invoices allocation.InvoiceGateway,
	allocations allocation.AllocationRepository,
	txScope TransactionScope,
	strategies StrategyResolver,
	opts ...Option,
) *AllocationService {
	s := &AllocationService{
		payments:        payments,
		invoices:        invoices,
		allocations:     allocations,
		txScope:         txScope,
		strategies:      strategies,
		validator:       allocation.NewValidator(),
		logger:          zap.NewNop(),
		defaultCurrency: valueobject.DefaultCurrency,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordPayment creates a pending payment with a generated number. With
// AutoAllocate set the payment is allocated in the same transaction; a
// customer without open invoices simply keeps the full amount unallocated.
func (s *AllocationService) RecordPayment(ctx context.Context, actx AllocationContext, req RecordPaymentRequest) (*RecordPaymentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "record_payment",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrCustomerID, req.CustomerID.String(),
		telemetry.SpanAttrAmount, req.Amount.String(),
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	payment, err := s.newPayment(ctx, actx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var (
		created      []*allocation.PaymentAllocation
		strategyName string
		opErr        error
	)
	start := time.Now()
	telemetry.WithProfilingLabels(ctx, telemetry.AllocationOperationLabels("record_payment", req.Strategy), func(c context.Context) {
		opErr = s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			if err := repos.PaymentRepo().Save(c, payment); err != nil {
				return fmt.Errorf("failed to save payment: %w", err)
			}
			if !req.AutoAllocate {
				return nil
			}

			strat, err := s.resolveStrategy(req.Strategy)
			if err != nil {
				return err
			}
			strategyName = strat.Name()
			// candidates are locked before the strategy runs so a concurrent
			// row for the same customer cannot leave this proposal stale
			selector := allocation.NewCandidateSelector(repos.InvoiceGateway())
			proposal, err := s.propose(c, selector.SelectLocked, payment, strat, ProposalOptions{})
			if errors.Is(err, allocation.ErrNoCandidates) {
				return nil
			}
			if err != nil {
				return err
			}
			pairs := proposal.Pairs()
			if len(pairs) == 0 {
				return nil
			}
			created, err = s.apply(c, repos, actx, payment, pairs, allocation.AllocationMethodAutomatic, strategyName)
			return err
		})
	})
	if opErr != nil {
		telemetry.RecordError(span, opErr)
		return nil, opErr
	}

	if len(created) > 0 {
		s.metrics.RecordAllocation(ctx, allocation.AllocationMethodAutomatic.String(), strategyName,
			len(created), payment.AllocatedAmount(), payment.Currency.Scale(), time.Since(start))
	}
	s.flushEvents(ctx, &payment.TenantAggregateRoot)

	telemetry.SetAttributes(span,
		telemetry.SpanAttrPaymentID, payment.ID.String(),
		telemetry.SpanAttrPairCount, len(created),
	)
	telemetry.SetOK(span)
	s.log(ctx).Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("payment_number", payment.PaymentNumber),
		zap.String("amount", payment.Amount.String()),
		zap.Int("allocations", len(created)),
	)

	return &RecordPaymentResult{
		Payment:     payment,
		Allocations: derefAllocations(created),
		Strategy:    strategyName,
	}, nil
}

// ProposeAutomaticAllocation previews how strategyName would allocate the
// payment's remaining amount. An empty strategy name uses the default. When
// the customer has no open invoices the result carries zero proposals.
func (s *AllocationService) ProposeAutomaticAllocation(
	ctx context.Context,
	actx AllocationContext,
	paymentID uuid.UUID,
	strategyName string,
	opts ProposalOptions,
) (*ProposalResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "propose",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrPaymentID, paymentID.String(),
		telemetry.SpanAttrStrategy, strategyName,
	)
	defer span.End()

	proposal, _, err := s.proposeFor(ctx, actx, paymentID, strategyName, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrCandidates, proposal.CandidateCount,
		telemetry.SpanAttrPairCount, len(proposal.Proposals),
	)
	telemetry.SetOK(span)
	return proposal, nil
}

// ExecuteAllocation applies the requested pairs. The request is validated
// again under lock; any violation rolls back every write.
func (s *AllocationService) ExecuteAllocation(ctx context.Context, actx AllocationContext, req ExecuteAllocationRequest) (*AllocationResult, error) {
	method := req.Method
	if method == "" {
		method = allocation.AllocationMethodManual
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "execute",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrPaymentID, req.PaymentID.String(),
		telemetry.SpanAttrMethod, method.String(),
		telemetry.SpanAttrPairCount, len(req.Pairs),
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !method.IsValid() {
		err := shared.NewDomainError(shared.ErrInvalidInput.Code, fmt.Sprintf("Allocation method '%s' is not valid", method))
		telemetry.RecordError(span, err)
		return nil, err
	}

	strategyName := ""
	if method == allocation.AllocationMethodAutomatic {
		strat, err := s.resolveStrategy(req.Strategy)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
		strategyName = strat.Name()
	}

	finish, err := s.idempotency.Acquire(ctx, "execute", actx.TenantID, req.IdempotencyKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	result, err := s.execute(ctx, actx, req.PaymentID, req.Pairs, method, strategyName)
	finish(ctx, err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrRemaining, result.RemainingAmount.String())
	telemetry.SetOK(span)
	return result, nil
}

// AutoAllocate proposes with a strategy and executes the proposal. If the
// balances changed between the two steps the proposal is recomputed once.
func (s *AllocationService) AutoAllocate(ctx context.Context, actx AllocationContext, req AutoAllocateRequest) (*AllocationResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "auto_allocate",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrPaymentID, req.PaymentID.String(),
		telemetry.SpanAttrStrategy, req.Strategy,
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	finish, err := s.idempotency.Acquire(ctx, "auto_allocate", actx.TenantID, req.IdempotencyKey)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	result, err := s.autoAllocate(ctx, actx, req)
	finish(ctx, err == nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttributes(span,
		telemetry.SpanAttrPairCount, len(result.Allocations),
		telemetry.SpanAttrRemaining, result.RemainingAmount.String(),
	)
	telemetry.SetOK(span)
	return result, nil
}

func (s *AllocationService) autoAllocate(ctx context.Context, actx AllocationContext, req AutoAllocateRequest) (*AllocationResult, error) {
	for attempt := 1; ; attempt++ {
		proposal, payment, err := s.proposeFor(ctx, actx, req.PaymentID, req.Strategy, req.Options)
		if err != nil {
			return nil, err
		}
		pairs := proposal.Pairs()
		if len(pairs) == 0 {
			return buildResult(payment, nil, allocation.AllocationMethodAutomatic, proposal.Strategy), nil
		}

		result, err := s.execute(ctx, actx, req.PaymentID, pairs, allocation.AllocationMethodAutomatic, proposal.Strategy)
		if err == nil || attempt >= maxAutoAttempts || !isStaleProposal(err) {
			return result, err
		}
		s.log(ctx).Info("balances changed since proposal, proposing again",
			zap.String("payment_id", req.PaymentID.String()),
			zap.Error(err),
		)
	}
}

// CompletePayment closes a fully allocated payment. Completed payments accept
// neither new allocations nor reversals.
func (s *AllocationService) CompletePayment(ctx context.Context, actx AllocationContext, paymentID uuid.UUID) (*allocation.Payment, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "allocation", "complete_payment",
		telemetry.SpanAttrTenantID, actx.TenantID.String(),
		telemetry.SpanAttrPaymentID, paymentID.String(),
	)
	defer span.End()

	if err := actx.Validate(); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var payment *allocation.Payment
	err := s.txScope.Execute(ctx, func(repos TransactionalRepositories) error {
		p, err := repos.PaymentRepo().FindByIDForUpdate(ctx, actx.TenantID, paymentID)
		if err != nil {
			return err
		}
		if err := p.MarkCompleted(); err != nil {
			return err
		}
		payment = p
		return repos.PaymentRepo().Save(ctx, p)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.flushEvents(ctx, &payment.TenantAggregateRoot)
	telemetry.SetOK(span)
	return payment, nil
}

func (s *AllocationService) execute(
	ctx context.Context,
	actx AllocationContext,
	paymentID uuid.UUID,
	pairs []allocation.AllocationPair,
	method allocation.AllocationMethod,
	strategyName string,
) (*AllocationResult, error) {
	var (
		payment *allocation.Payment
		created []*allocation.PaymentAllocation
		opErr   error
	)
	start := time.Now()
	telemetry.WithProfilingLabels(ctx, telemetry.AllocationOperationLabels("execute", strategyName), func(c context.Context) {
		opErr = s.txScope.Execute(c, func(repos TransactionalRepositories) error {
			p, err := repos.PaymentRepo().FindByIDForUpdate(c, actx.TenantID, paymentID)
			if err != nil {
				return err
			}
			payment = p
			created, err = s.apply(c, repos, actx, p, pairs, method, strategyName)
			return err
		})
	})
	elapsed := time.Since(start)

	if opErr != nil {
		s.recordFailure(ctx, actx, paymentID, method, strategyName, allocation.TotalOf(pairs), opErr, elapsed)
		return nil, opErr
	}

	total := allocation.TotalOf(pairs)
	s.metrics.RecordAllocation(ctx, method.String(), strategyName, len(created), total, payment.Currency.Scale(), elapsed)
	s.flushEvents(ctx, &payment.TenantAggregateRoot)
	s.log(ctx).Info("payment allocated",
		zap.String("payment_id", payment.ID.String()),
		zap.String("method", method.String()),
		zap.String("strategy", strategyName),
		zap.Int("lines", len(created)),
		zap.String("total", total.String()),
		zap.String("remaining", payment.RemainingAmount.String()),
	)
	return buildResult(payment, created, method, strategyName), nil
}

// apply writes the allocations for a payment the caller already holds. It
// locks the invoices, validates under lock, creates the allocation rows and
// updates both balances.
func (s *AllocationService) apply(
	ctx context.Context,
	repos TransactionalRepositories,
	actx AllocationContext,
	payment *allocation.Payment,
	pairs []allocation.AllocationPair,
	method allocation.AllocationMethod,
	strategyName string,
) ([]*allocation.PaymentAllocation, error) {
	gateway := repos.InvoiceGateway()
	invoices, err := gateway.LockForUpdate(ctx, payment.TenantID, allocation.InvoiceIDs(pairs))
	if err != nil {
		return nil, fmt.Errorf("failed to lock invoices: %w", err)
	}
	index := allocation.IndexInvoices(invoices)
	if err := s.validator.Validate(payment, pairs, index); err != nil {
		return nil, err
	}

	before := payment.Snapshot()
	created := make([]*allocation.PaymentAllocation, 0, len(pairs))
	for _, pair := range pairs {
		inv := index[pair.InvoiceID]
		a, err := allocation.NewPaymentAllocation(payment, inv, pair.Amount, method, strategyName, actx.ActorID)
		if err != nil {
			return nil, err
		}
		statusBefore := inv.Status
		statusAfter, err := inv.ApplyPayment(pair.Amount)
		if err != nil {
			return nil, err
		}
		if err := gateway.DecrementBalance(ctx, inv.ID, pair.Amount); err != nil {
			return nil, fmt.Errorf("failed to update invoice %s: %w", inv.InvoiceNumber, err)
		}
		if statusAfter != statusBefore {
			if err := gateway.SetStatus(ctx, inv.ID, statusAfter); err != nil {
				return nil, fmt.Errorf("failed to update invoice %s: %w", inv.InvoiceNumber, err)
			}
		}
		created = append(created, a)
	}

	if err := payment.ApplyAllocation(allocation.TotalOf(pairs)); err != nil {
		return nil, err
	}
	if err := repos.AllocationRepo().CreateBatch(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to save allocations: %w", err)
	}
	if err := repos.PaymentRepo().Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save payment: %w", err)
	}
	payment.AddDomainEvent(allocation.NewPaymentAllocatedEvent(payment, before, created, method, strategyName, actx.ActorID))
	return created, nil
}

func (s *AllocationService) proposeFor(
	ctx context.Context,
	actx AllocationContext,
	paymentID uuid.UUID,
	strategyName string,
	opts ProposalOptions,
) (*ProposalResult, *allocation.Payment, error) {
	if err := actx.Validate(); err != nil {
		return nil, nil, err
	}
	payment, err := s.payments.FindByID(ctx, actx.TenantID, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if err := payment.EnsureAllocatable(); err != nil {
		return nil, nil, err
	}
	strat, err := s.resolveStrategy(strategyName)
	if err != nil {
		return nil, nil, err
	}

	var proposal *ProposalResult
	telemetry.WithProfilingLabels(ctx, telemetry.AllocationOperationLabels("propose", strat.Name()), func(c context.Context) {
		proposal, err = s.propose(c, allocation.NewCandidateSelector(s.invoices).Select, payment, strat, opts)
	})
	if errors.Is(err, allocation.ErrNoCandidates) {
		s.log(ctx).Info("no open invoices to allocate against",
			zap.String("payment_id", payment.ID.String()),
			zap.String("customer_id", payment.CustomerID.String()),
		)
		return proposal, payment, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return proposal, payment, nil
}

// propose runs strat over the candidates returned by selectFn. On
// ErrNoCandidates it still returns an empty proposal alongside the error.
func (s *AllocationService) propose(
	ctx context.Context,
	selectFn func(context.Context, *allocation.Payment) ([]allocation.Invoice, error),
	payment *allocation.Payment,
	strat strategy.PaymentAllocationStrategy,
	opts ProposalOptions,
) (*ProposalResult, error) {
	result := &ProposalResult{
		PaymentID:            payment.ID,
		Strategy:             strat.Name(),
		AvailableAmount:      payment.RemainingAmount,
		Proposals:            []strategy.AllocationProposal{},
		TotalAllocated:       decimal.Zero,
		UnallocatedRemainder: payment.RemainingAmount,
	}

	candidates, err := selectFn(ctx, payment)
	if err != nil {
		return result, err
	}
	result.CandidateCount = len(candidates)

	asOf := s.now()
	if opts.AsOf != nil {
		asOf = *opts.AsOf
	}
	out, err := strat.Allocate(payment.RemainingAmount, allocation.ToCandidates(candidates), strategy.AllocationOptions{
		Currency:           payment.Currency,
		AsOf:               asOf,
		Percentages:        opts.Percentages,
		PriorityInvoiceIDs: opts.PriorityInvoiceIDs,
	})
	if err != nil {
		return nil, err
	}
	result.Proposals = out.Proposals
	result.TotalAllocated = out.TotalAllocated
	result.UnallocatedRemainder = out.UnallocatedRemainder
	return result, nil
}

func (s *AllocationService) resolveStrategy(name string) (strategy.PaymentAllocationStrategy, error) {
	strat, err := s.strategies.GetAllocationStrategy(strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.NewDomainError(allocation.ErrUnknownStrategy.Code,
				fmt.Sprintf("Allocation strategy '%s' is not registered", name))
		}
		return nil, err
	}
	return strat, nil
}

func (s *AllocationService) newPayment(ctx context.Context, actx AllocationContext, req RecordPaymentRequest) (*allocation.Payment, error) {
	cur := s.defaultCurrency
	if strings.TrimSpace(req.Currency) != "" {
		parsed, err := valueobject.ParseCurrency(req.Currency)
		if err != nil {
			return nil, shared.NewDomainError("INVALID_CURRENCY", err.Error())
		}
		cur = parsed
	}
	amount, err := valueobject.NewMoney(req.Amount, cur)
	if err != nil {
		return nil, shared.NewDomainError(allocation.ErrInvalidAmount.Code, err.Error())
	}
	method, err := allocation.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	number, err := s.payments.GeneratePaymentNumber(ctx, actx.TenantID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to generate payment number: %w", err)
	}
	payment, err := allocation.NewPayment(actx.TenantID, req.CustomerID, number, amount, method, req.PaymentDate)
	if err != nil {
		return nil, err
	}
	if err := payment.SetReference(strings.TrimSpace(req.ReferenceNumber)); err != nil {
		return nil, err
	}
	if req.Notes != "" {
		payment.SetNotes(req.Notes)
	}
	if req.BatchID != nil {
		payment.AssignBatch(*req.BatchID)
	}
	payment.SetCreatedBy(actx.ActorID)
	return payment, nil
}

func (s *AllocationService) recordFailure(
	ctx context.Context,
	actx AllocationContext,
	paymentID uuid.UUID,
	method allocation.AllocationMethod,
	strategyName string,
	requested decimal.Decimal,
	cause error,
	elapsed time.Duration,
) {
	code := failureCode(cause)
	s.metrics.RecordFailure(ctx, method.String(), strategyName, code, elapsed)

	if !allocation.IsValidationError(cause) && !allocation.IsStateError(cause) {
		s.log(ctx).Error("allocation failed",
			zap.String("payment_id", paymentID.String()),
			zap.Error(cause),
		)
		return
	}
	s.log(ctx).Warn("allocation rejected",
		zap.String("payment_id", paymentID.String()),
		zap.String("code", code),
		zap.Error(cause),
	)
	s.publish(ctx, allocation.NewAllocationFailedEvent(actx.TenantID, paymentID, actx.ActorID, method, strategyName, requested, cause))
}

// flushEvents publishes the aggregate's queued events once its transaction
// has committed
func (s *AllocationService) flushEvents(ctx context.Context, root *shared.TenantAggregateRoot) {
	events := root.GetDomainEvents()
	root.ClearDomainEvents()
	s.publish(ctx, events...)
}

func (s *AllocationService) publish(ctx context.Context, events ...shared.DomainEvent) {
	if s.events == nil || len(events) == 0 {
		return
	}
	if err := s.events.Publish(ctx, events...); err != nil {
		s.log(ctx).Warn("failed to publish domain events", zap.Int("count", len(events)), zap.Error(err))
	}
}

func (s *AllocationService) log(ctx context.Context) *zap.Logger {
	return logger.Enrich(ctx, s.logger)
}

func isStaleProposal(err error) bool {
	return errors.Is(err, allocation.ErrExceedsBalanceDue) ||
		errors.Is(err, allocation.ErrExceedsRemainingAmount) ||
		errors.Is(err, allocation.ErrInvoiceNotOpen)
}

func buildResult(
	payment *allocation.Payment,
	created []*allocation.PaymentAllocation,
	method allocation.AllocationMethod,
	strategyName string,
) *AllocationResult {
	allocs := derefAllocations(created)
	total := decimal.Zero
	for i := range allocs {
		total = total.Add(allocs[i].AllocatedAmount)
	}
	return &AllocationResult{
		PaymentID:        payment.ID,
		PaymentNumber:    payment.PaymentNumber,
		Method:           method,
		Strategy:         strategyName,
		Allocations:      allocs,
		TotalAllocated:   total,
		RemainingAmount:  payment.RemainingAmount,
		IsFullyAllocated: payment.IsFullyAllocated(),
		PaymentStatus:    payment.Status,
	}
}

func derefAllocations(in []*allocation.PaymentAllocation) []allocation.PaymentAllocation {
	out := make([]allocation.PaymentAllocation, len(in))
	for i, a := range in {
		out[i] = *a
	}
	return out
}
