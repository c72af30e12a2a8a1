package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInvoiceGateway struct {
	mock.Mock
}

func (m *mockInvoiceGateway) GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error) {
	args := m.Called(ctx, tenantID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Invoice), args.Error(1)
}

func (m *mockInvoiceGateway) FindOpenForCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]Invoice, error) {
	args := m.Called(ctx, tenantID, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Invoice), args.Error(1)
}

func (m *mockInvoiceGateway) LockForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Invoice, error) {
	args := m.Called(ctx, tenantID, ids)
	return args.Get(0).([]Invoice), args.Error(1)
}

func (m *mockInvoiceGateway) DecrementBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return m.Called(ctx, id, amount).Error(0)
}

func (m *mockInvoiceGateway) IncrementBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	return m.Called(ctx, id, amount).Error(0)
}

func (m *mockInvoiceGateway) SetStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func TestCandidateSelector_Select(t *testing.T) {
	ctx := context.Background()
	p := createTestPayment(t, "100")

	open := createTestInvoice(p, "INV-OPEN", "50")
	draft := createTestInvoice(p, "INV-DRAFT", "20")
	draft.Status = InvoiceStatusDraft
	paid := createTestInvoice(p, "INV-PAID", "0")
	paid.Status = InvoiceStatusPaid
	cancelled := createTestInvoice(p, "INV-CANCEL", "30")
	cancelled.Status = InvoiceStatusCancelled
	settled := createTestInvoice(p, "INV-ZERO", "0")
	otherCustomer := createTestInvoice(p, "INV-OTHER", "40")
	otherCustomer.CustomerID = uuid.New()
	otherCompany := createTestInvoice(p, "INV-CO", "40")
	otherCompany.TenantID = uuid.New()

	gw := new(mockInvoiceGateway)
	gw.On("FindOpenForCustomer", ctx, p.TenantID, p.CustomerID).Return([]Invoice{
		*open, *draft, *paid, *cancelled, *settled, *otherCustomer, *otherCompany,
	}, nil)

	got, err := NewCandidateSelector(gw).Select(ctx, p)
	require.NoError(t, err)

	numbers := make([]string, 0, len(got))
	for _, inv := range got {
		numbers = append(numbers, inv.InvoiceNumber)
	}
	assert.ElementsMatch(t, []string{"INV-OPEN", "INV-DRAFT"}, numbers)

	cands := ToCandidates(got)
	require.Len(t, cands, 2)
	assert.Equal(t, got[0].ID, cands[0].InvoiceID)
	gw.AssertExpectations(t)
}

func TestCandidateSelector_NoCandidates(t *testing.T) {
	ctx := context.Background()
	p := createTestPayment(t, "100")

	gw := new(mockInvoiceGateway)
	gw.On("FindOpenForCustomer", ctx, p.TenantID, p.CustomerID).Return([]Invoice{}, nil)

	_, err := NewCandidateSelector(gw).Select(ctx, p)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestCandidateSelector_GatewayError(t *testing.T) {
	ctx := context.Background()
	p := createTestPayment(t, "100")
	boom := errors.New("connection refused")

	gw := new(mockInvoiceGateway)
	gw.On("FindOpenForCustomer", ctx, p.TenantID, p.CustomerID).Return(nil, boom)

	_, err := NewCandidateSelector(gw).Select(ctx, p)
	assert.ErrorIs(t, err, boom)
}

func TestCandidateSelector_SelectLocked(t *testing.T) {
	ctx := context.Background()
	p := createTestPayment(t, "100")

	first := createTestInvoice(p, "INV-1", "80")
	second := createTestInvoice(p, "INV-2", "40")

	t.Run("uses the balances read under lock", func(t *testing.T) {
		lockedFirst := *first
		lockedFirst.BalanceDue = decimal.NewFromInt(30)
		lockedSecond := *second
		lockedSecond.BalanceDue = decimal.Zero
		lockedSecond.Status = InvoiceStatusPaid

		gw := new(mockInvoiceGateway)
		gw.On("FindOpenForCustomer", ctx, p.TenantID, p.CustomerID).Return([]Invoice{*first, *second}, nil)
		gw.On("LockForUpdate", ctx, p.TenantID, []uuid.UUID{first.ID, second.ID}).
			Return([]Invoice{lockedFirst, lockedSecond}, nil)

		got, err := NewCandidateSelector(gw).SelectLocked(ctx, p)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, first.ID, got[0].ID)
		assert.True(t, got[0].BalanceDue.Equal(decimal.NewFromInt(30)))
		gw.AssertExpectations(t)
	})

	t.Run("nothing left after locking", func(t *testing.T) {
		settled := *first
		settled.BalanceDue = decimal.Zero

		gw := new(mockInvoiceGateway)
		gw.On("FindOpenForCustomer", ctx, p.TenantID, p.CustomerID).Return([]Invoice{*first}, nil)
		gw.On("LockForUpdate", ctx, p.TenantID, []uuid.UUID{first.ID}).Return([]Invoice{settled}, nil)

		_, err := NewCandidateSelector(gw).SelectLocked(ctx, p)
		assert.ErrorIs(t, err, ErrNoCandidates)
	})
}
