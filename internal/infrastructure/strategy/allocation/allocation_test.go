package allocation

import (
	"math/rand"
	"testing"
	"time"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	invoiceA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	invoiceB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	invoiceC = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	invoiceD = uuid.MustParse("00000000-0000-0000-0000-00000000000d")
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// threeInvoices is A(120, oldest), B(150), C(100, newest)
func threeInvoices() []strategy.AllocationCandidate {
	return []strategy.AllocationCandidate{
		{InvoiceID: invoiceC, InvoiceNumber: "INV-C", IssueDate: day("2024-03-01"), DueDate: day("2024-03-31"), BalanceDue: d("100.00")},
		{InvoiceID: invoiceA, InvoiceNumber: "INV-A", IssueDate: day("2024-01-01"), DueDate: day("2024-01-31"), BalanceDue: d("120.00")},
		{InvoiceID: invoiceB, InvoiceNumber: "INV-B", IssueDate: day("2024-02-01"), DueDate: day("2024-02-29"), BalanceDue: d("150.00")},
	}
}

func usd() strategy.AllocationOptions {
	return strategy.AllocationOptions{Currency: valueobject.USD, AsOf: day("2024-06-30")}
}

type expected struct {
	id     uuid.UUID
	amount string
}

func assertProposals(t *testing.T, result strategy.AllocationResult, want []expected) {
	t.Helper()
	require.Len(t, result.Proposals, len(want))
	for i, w := range want {
		p := result.Proposals[i]
		assert.Equal(t, w.id, p.InvoiceID, "proposal %d invoice", i)
		assert.True(t, p.Amount.Equal(d(w.amount)), "proposal %d: got %s want %s", i, p.Amount, w.amount)
		assert.True(t, p.BalanceAfter.Equal(p.BalanceBefore.Sub(p.Amount)))
	}
}

func TestFIFOAllocationStrategy(t *testing.T) {
	s := NewFIFOAllocationStrategy()
	assert.Equal(t, strategy.AllocationFIFO, s.Name())

	result, err := s.Allocate(d("300.00"), threeInvoices(), usd())
	require.NoError(t, err)

	assertProposals(t, result, []expected{
		{invoiceA, "120.00"},
		{invoiceB, "150.00"},
		{invoiceC, "30.00"},
	})
	assert.True(t, result.TotalAllocated.Equal(d("300.00")))
	assert.True(t, result.UnallocatedRemainder.IsZero())
	assert.True(t, result.Proposals[2].BalanceAfter.Equal(d("70.00")))
	assert.Equal(t, "FIFO allocation - oldest invoice paid first", result.Proposals[0].Note)
}

func TestFIFOAllocationStrategy_LeavesRemainderWhenCandidatesExhausted(t *testing.T) {
	result, err := NewFIFOAllocationStrategy().Allocate(d("500.00"), threeInvoices(), usd())
	require.NoError(t, err)

	assert.True(t, result.TotalAllocated.Equal(d("370.00")))
	assert.True(t, result.UnallocatedRemainder.Equal(d("130.00")))
}

func TestFIFOAllocationStrategy_DoesNotMutateInput(t *testing.T) {
	cands := threeInvoices()
	_, err := NewFIFOAllocationStrategy().Allocate(d("50"), cands, usd())
	require.NoError(t, err)
	assert.Equal(t, invoiceC, cands[0].InvoiceID)
}

func TestLargestFirstAllocationStrategy(t *testing.T) {
	result, err := NewLargestFirstAllocationStrategy().Allocate(d("200.00"), threeInvoices(), usd())
	require.NoError(t, err)

	assertProposals(t, result, []expected{
		{invoiceB, "150.00"},
		{invoiceA, "50.00"},
	})
}

func TestOverdueFirstAllocationStrategy(t *testing.T) {
	cands := []strategy.AllocationCandidate{
		{InvoiceID: invoiceA, DueDate: day("2024-06-01"), BalanceDue: d("100")},
		{InvoiceID: invoiceB, DueDate: day("2024-05-01"), BalanceDue: d("100")},
		{InvoiceID: invoiceC, DueDate: day("2024-07-15"), BalanceDue: d("100")},
		{InvoiceID: invoiceD, DueDate: day("2024-07-05"), BalanceDue: d("100")},
	}

	result, err := NewOverdueFirstAllocationStrategy().Allocate(d("350"), cands, usd())
	require.NoError(t, err)

	assertProposals(t, result, []expected{
		{invoiceB, "100"},
		{invoiceA, "100"},
		{invoiceD, "100"},
		{invoiceC, "50"},
	})
	assert.Equal(t, "Priority allocation - overdue invoice paid first", result.Proposals[0].Note)
	assert.Equal(t, "Priority allocation - non-overdue invoice", result.Proposals[2].Note)
}

func TestOverdueFirstAllocationStrategy_DueTodayIsNotOverdue(t *testing.T) {
	cands := []strategy.AllocationCandidate{
		{InvoiceID: invoiceA, DueDate: day("2024-06-30"), BalanceDue: d("10")},
		{InvoiceID: invoiceB, DueDate: day("2024-06-29"), BalanceDue: d("10")},
	}
	result, err := NewOverdueFirstAllocationStrategy().Allocate(d("10"), cands, usd())
	require.NoError(t, err)
	assertProposals(t, result, []expected{{invoiceB, "10"}})
}

func TestProportionalAllocationStrategy(t *testing.T) {
	result, err := NewProportionalAllocationStrategy().Allocate(d("300.00"), threeInvoices(), usd())
	require.NoError(t, err)

	// floors are 97.29 / 121.62 / 81.08; the spare cent goes to the largest balance
	assertProposals(t, result, []expected{
		{invoiceA, "97.29"},
		{invoiceB, "121.63"},
		{invoiceC, "81.08"},
	})
	assert.True(t, result.TotalAllocated.Equal(d("300.00")))
	assert.True(t, result.UnallocatedRemainder.IsZero())
}

func TestProportionalAllocationStrategy_CoversEverythingWhenFundsSuffice(t *testing.T) {
	result, err := NewProportionalAllocationStrategy().Allocate(d("1000.00"), threeInvoices(), usd())
	require.NoError(t, err)

	assert.True(t, result.TotalAllocated.Equal(d("370.00")))
	assert.True(t, result.UnallocatedRemainder.Equal(d("630.00")))
}

func TestProportionalAllocationStrategy_ZeroScaleCurrency(t *testing.T) {
	opts := usd()
	opts.Currency = valueobject.JPY
	cands := []strategy.AllocationCandidate{
		{InvoiceID: invoiceA, BalanceDue: d("1")},
		{InvoiceID: invoiceB, BalanceDue: d("1")},
		{InvoiceID: invoiceC, BalanceDue: d("1")},
	}
	result, err := NewProportionalAllocationStrategy().Allocate(d("2"), cands, opts)
	require.NoError(t, err)
	assert.True(t, result.TotalAllocated.Equal(d("2")))
	for _, p := range result.Proposals {
		assert.True(t, p.Amount.Equal(d("1")))
	}
}

func TestPercentageAllocationStrategy(t *testing.T) {
	s := NewPercentageAllocationStrategy()
	cands := []strategy.AllocationCandidate{
		{InvoiceID: invoiceA, IssueDate: day("2024-01-01"), BalanceDue: d("30.00")},
		{InvoiceID: invoiceB, IssueDate: day("2024-02-01"), BalanceDue: d("100.00")},
		{InvoiceID: invoiceC, IssueDate: day("2024-03-01"), BalanceDue: d("100.00")},
	}

	t.Run("capped share rolls to the next invoice", func(t *testing.T) {
		opts := usd()
		opts.Percentages = []decimal.Decimal{d("50"), d("30"), d("20")}
		result, err := s.Allocate(d("100.00"), cands, opts)
		require.NoError(t, err)

		assertProposals(t, result, []expected{
			{invoiceA, "30.00"},
			{invoiceB, "50.00"},
			{invoiceC, "20.00"},
		})
		assert.Equal(t, "Percentage-based allocation - 50% of payment", result.Proposals[0].Note)
	})

	t.Run("no minor unit is lost at 100 percent", func(t *testing.T) {
		opts := usd()
		opts.Percentages = []decimal.Decimal{d("33.33"), d("33.33"), d("33.34")}
		result, err := s.Allocate(d("10.00"), []strategy.AllocationCandidate{
			{InvoiceID: invoiceA, IssueDate: day("2024-01-01"), BalanceDue: d("100")},
			{InvoiceID: invoiceB, IssueDate: day("2024-02-01"), BalanceDue: d("100")},
			{InvoiceID: invoiceC, IssueDate: day("2024-03-01"), BalanceDue: d("100")},
		}, opts)
		require.NoError(t, err)
		assert.True(t, result.TotalAllocated.Equal(d("10.00")))
	})

	t.Run("partial percentages leave a remainder", func(t *testing.T) {
		opts := usd()
		opts.Percentages = []decimal.Decimal{d("25")}
		result, err := s.Allocate(d("100.00"), cands, opts)
		require.NoError(t, err)
		assertProposals(t, result, []expected{{invoiceA, "25.00"}})
		assert.True(t, result.UnallocatedRemainder.Equal(d("75.00")))
	})

	invalid := map[string][]decimal.Decimal{
		"missing list":       nil,
		"sum above 100":      {d("60"), d("50")},
		"negative entry":     {d("-10"), d("20")},
		"more than invoices": {d("10"), d("10"), d("10"), d("10")},
	}
	for name, pct := range invalid {
		t.Run(name, func(t *testing.T) {
			opts := usd()
			opts.Percentages = pct
			_, err := s.Allocate(d("100.00"), cands, opts)
			assert.ErrorIs(t, err, strategy.ErrInvalidStrategyOptions)
		})
	}
}

func TestEqualDistributionAllocationStrategy(t *testing.T) {
	s := NewEqualDistributionAllocationStrategy()

	t.Run("remainder cents go out in issue date order", func(t *testing.T) {
		cands := []strategy.AllocationCandidate{
			{InvoiceID: invoiceA, IssueDate: day("2024-01-01"), BalanceDue: d("500")},
			{InvoiceID: invoiceB, IssueDate: day("2024-02-01"), BalanceDue: d("500")},
			{InvoiceID: invoiceC, IssueDate: day("2024-03-01"), BalanceDue: d("500")},
		}
		result, err := s.Allocate(d("100.00"), cands, usd())
		require.NoError(t, err)
		assertProposals(t, result, []expected{
			{invoiceA, "33.34"},
			{invoiceB, "33.33"},
			{invoiceC, "33.33"},
		})
	})

	t.Run("capped share is redistributed", func(t *testing.T) {
		cands := []strategy.AllocationCandidate{
			{InvoiceID: invoiceA, IssueDate: day("2024-01-01"), BalanceDue: d("10.00")},
			{InvoiceID: invoiceB, IssueDate: day("2024-02-01"), BalanceDue: d("50.00")},
			{InvoiceID: invoiceC, IssueDate: day("2024-03-01"), BalanceDue: d("60.00")},
		}
		result, err := s.Allocate(d("100.00"), cands, usd())
		require.NoError(t, err)
		assertProposals(t, result, []expected{
			{invoiceA, "10.00"},
			{invoiceB, "45.00"},
			{invoiceC, "45.00"},
		})
	})

	t.Run("all capped leaves a remainder", func(t *testing.T) {
		result, err := s.Allocate(d("1000.00"), threeInvoices(), usd())
		require.NoError(t, err)
		assert.True(t, result.TotalAllocated.Equal(d("370.00")))
		assert.True(t, result.UnallocatedRemainder.Equal(d("630.00")))
	})
}

func TestCustomPriorityAllocationStrategy(t *testing.T) {
	s := NewCustomPriorityAllocationStrategy()

	t.Run("follows the given order and ignores unlisted invoices", func(t *testing.T) {
		opts := usd()
		opts.PriorityInvoiceIDs = []uuid.UUID{invoiceC, uuid.New(), invoiceA}
		result, err := s.Allocate(d("300.00"), threeInvoices(), opts)
		require.NoError(t, err)

		assertProposals(t, result, []expected{
			{invoiceC, "100.00"},
			{invoiceA, "120.00"},
		})
		assert.True(t, result.UnallocatedRemainder.Equal(d("80.00")))
		assert.Equal(t, "Custom priority allocation - priority #3", result.Proposals[1].Note)
	})

	t.Run("requires a list", func(t *testing.T) {
		_, err := s.Allocate(d("300.00"), threeInvoices(), usd())
		assert.ErrorIs(t, err, strategy.ErrInvalidStrategyOptions)
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		opts := usd()
		opts.PriorityInvoiceIDs = []uuid.UUID{invoiceA, invoiceA}
		_, err := s.Allocate(d("300.00"), threeInvoices(), opts)
		assert.ErrorIs(t, err, strategy.ErrInvalidStrategyOptions)
	})
}

func allStrategies() []strategy.PaymentAllocationStrategy {
	return []strategy.PaymentAllocationStrategy{
		NewFIFOAllocationStrategy(),
		NewLargestFirstAllocationStrategy(),
		NewOverdueFirstAllocationStrategy(),
		NewProportionalAllocationStrategy(),
		NewPercentageAllocationStrategy(),
		NewEqualDistributionAllocationStrategy(),
		NewCustomPriorityAllocationStrategy(),
	}
}

func randomCandidates(rng *rand.Rand) []strategy.AllocationCandidate {
	n := rng.Intn(6) + 1
	cands := make([]strategy.AllocationCandidate, n)
	for i := range cands {
		cands[i] = strategy.AllocationCandidate{
			InvoiceID:  uuid.New(),
			IssueDate:  day("2024-01-01").AddDate(0, 0, rng.Intn(90)),
			DueDate:    day("2024-03-01").AddDate(0, 0, rng.Intn(180)),
			BalanceDue: decimal.New(int64(rng.Intn(100000)+1), -2),
		}
	}
	return cands
}

func optionsFor(name string, cands []strategy.AllocationCandidate) strategy.AllocationOptions {
	opts := usd()
	switch name {
	case strategy.AllocationPercentageBased:
		share := decimal.NewFromInt(100).Div(decimal.NewFromInt(int64(len(cands)))).RoundFloor(2)
		for range cands {
			opts.Percentages = append(opts.Percentages, share)
		}
	case strategy.AllocationCustomPriority:
		for i := len(cands) - 1; i >= 0; i-- {
			opts.PriorityInvoiceIDs = append(opts.PriorityInvoiceIDs, cands[i].InvoiceID)
		}
	}
	return opts
}

func TestStrategies_Invariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		cands := randomCandidates(rng)
		available := decimal.New(int64(rng.Intn(200000)+1), -2)
		total := decimal.Zero
		for _, c := range cands {
			total = total.Add(c.BalanceDue)
		}

		for _, s := range allStrategies() {
			opts := optionsFor(s.Name(), cands)
			first, err := s.Allocate(available, cands, opts)
			require.NoError(t, err, s.Name())
			second, err := s.Allocate(available, cands, opts)
			require.NoError(t, err, s.Name())
			assert.Equal(t, first, second, "%s must be deterministic", s.Name())

			sum := decimal.Zero
			balances := make(map[uuid.UUID]decimal.Decimal, len(cands))
			for _, c := range cands {
				balances[c.InvoiceID] = c.BalanceDue
			}
			for _, p := range first.Proposals {
				assert.True(t, p.Amount.IsPositive(), s.Name())
				assert.True(t, p.Amount.LessThanOrEqual(balances[p.InvoiceID]), s.Name())
				sum = sum.Add(p.Amount)
			}
			assert.True(t, sum.LessThanOrEqual(available), s.Name())
			assert.True(t, first.TotalAllocated.Equal(sum), s.Name())
			assert.True(t, first.UnallocatedRemainder.Equal(available.Sub(sum)), s.Name())

			switch s.Name() {
			case strategy.AllocationProportional, strategy.AllocationEqualDistribution,
				strategy.AllocationFIFO, strategy.AllocationLargestFirst, strategy.AllocationOverdueFirst:
				assert.True(t, sum.Equal(decimal.Min(available, total)),
					"%s: sum %s want %s", s.Name(), sum, decimal.Min(available, total))
			}
		}
	}
}

func TestStrategies_RejectNegativeAmount(t *testing.T) {
	for _, s := range allStrategies() {
		_, err := s.Allocate(d("-1"), threeInvoices(), optionsFor(s.Name(), threeInvoices()))
		assert.ErrorIs(t, err, strategy.ErrInvalidStrategyOptions, s.Name())
	}
}

func TestStrategies_SkipSettledCandidates(t *testing.T) {
	cands := append(threeInvoices(), strategy.AllocationCandidate{InvoiceID: invoiceD, BalanceDue: decimal.Zero})
	result, err := NewEqualDistributionAllocationStrategy().Allocate(d("30"), cands, usd())
	require.NoError(t, err)
	for _, p := range result.Proposals {
		assert.NotEqual(t, invoiceD, p.InvoiceID)
	}
}
