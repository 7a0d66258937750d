package gateway

import (
	"context"
	"math/rand"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestSimulator(failureRate float64, opts ...Option) (*Simulator, *recordingSleeper) {
	sleeper := &recordingSleeper{}
	base := []Option{
		WithFailureRate(failureRate),
		WithRand(rand.New(rand.NewSource(42))),
		WithSleeper(sleeper.sleep),
		WithClock(func() time.Time { return time.UnixMilli(1700000000000) }),
	}
	return NewSimulator(append(base, opts...)...), sleeper
}

func charge(t *testing.T, s *Simulator, card string, method domain.PaymentMethod) domain.ChargeResult {
	t.Helper()
	res, err := s.Charge(context.Background(), domain.ChargeRequest{
		Amount:     decimal.NewFromInt(25),
		Currency:   "usd",
		Method:     method,
		CardNumber: card,
	})
	require.NoError(t, err)
	return res
}

func TestSimulator_FixtureCardsIgnoreFailureRate(t *testing.T) {
	cases := []struct {
		card    string
		success bool
		reason  string
		brand   string
		last4   string
	}{
		{card: "4242 4242 4242 4242", success: true, brand: BrandVisa, last4: "4242"},
		{card: "4000000000000002", reason: ReasonCardDeclined, brand: BrandVisa, last4: "0002"},
		{card: "4000000000009995", reason: ReasonInsufficientFunds, brand: BrandVisa, last4: "9995"},
		{card: "5555555555554444", success: true, brand: BrandMastercard, last4: "4444"},
		{card: "378282246310005", success: true, brand: BrandAmex, last4: "0005"},
	}

	for _, rate := range []float64{0, 1} {
		sim, _ := newTestSimulator(rate)
		for _, tc := range cases {
			for i := 0; i < 5; i++ {
				res := charge(t, sim, tc.card, domain.PaymentMethodCard)
				assert.Equal(t, tc.success, res.Success, tc.card)
				assert.Equal(t, tc.reason, res.FailureReason, tc.card)
				assert.Equal(t, tc.brand, res.CardBrand, tc.card)
				assert.Equal(t, tc.last4, res.CardLast4, tc.card)
				if tc.success {
					assert.Regexp(t, regexp.MustCompile(`^txn_1700000000000_[0-9a-z]{6}$`), res.TransactionID)
				} else {
					assert.Empty(t, res.TransactionID)
				}
			}
		}
	}
}

func TestSimulator_UnknownCardUsesFailureRate(t *testing.T) {
	never, _ := newTestSimulator(0)
	res := charge(t, never, "6011111111111117", "")
	assert.True(t, res.Success)
	assert.Equal(t, BrandDiscover, res.CardBrand)

	always, _ := newTestSimulator(1)
	res = charge(t, always, "5105105105105100", "")
	assert.False(t, res.Success)
	assert.Equal(t, ReasonCardDeclined, res.FailureReason)
	assert.Equal(t, BrandMastercard, res.CardBrand)
}

func TestSimulator_GenericMethod(t *testing.T) {
	always, _ := newTestSimulator(1)
	allowed := map[string]bool{}
	for _, reason := range genericFailureReasons {
		allowed[reason] = true
	}
	for i := 0; i < 20; i++ {
		res := charge(t, always, "", domain.PaymentMethodPayPal)
		require.False(t, res.Success)
		assert.True(t, allowed[res.FailureReason], res.FailureReason)
		assert.Equal(t, "paypal", res.CardBrand)
		assert.Empty(t, res.CardLast4)
	}

	never, _ := newTestSimulator(0)
	res := charge(t, never, "", "")
	assert.True(t, res.Success)
	assert.Equal(t, "simulated", res.CardBrand)
	assert.Equal(t, "USD", res.Response["currency"])
}

func TestSimulator_DelayWithinBounds(t *testing.T) {
	sim, sleeper := newTestSimulator(0)
	for i := 0; i < 100; i++ {
		charge(t, sim, "4242424242424242", "")
	}
	require.Len(t, sleeper.delays, 100)
	for _, d := range sleeper.delays {
		assert.GreaterOrEqual(t, d, DefaultMinDelay)
		assert.LessOrEqual(t, d, DefaultMaxDelay)
	}
}

func TestSimulator_HonoursCancellation(t *testing.T) {
	sim := NewSimulator(WithDelay(time.Hour, time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Charge(ctx, domain.ChargeRequest{Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, context.Canceled)

	_, err = sim.Refund(ctx, domain.RefundRequest{TransactionID: "txn_1"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSimulator_Refund(t *testing.T) {
	sim, _ := newTestSimulator(0, WithRefundFailureRate(0))
	res, err := sim.Refund(context.Background(), domain.RefundRequest{TransactionID: "txn_1", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Regexp(t, regexp.MustCompile(`^ref_1700000000000_[0-9a-z]{6}$`), res.RefundID)

	// при замороженных часах идентификаторы всё равно различаются
	seen := map[string]bool{res.RefundID: true}
	for i := 0; i < 20; i++ {
		next, err := sim.Refund(context.Background(), domain.RefundRequest{TransactionID: "txn_1", Amount: decimal.NewFromInt(5)})
		require.NoError(t, err)
		assert.False(t, seen[next.RefundID], next.RefundID)
		seen[next.RefundID] = true
	}

	failing, _ := newTestSimulator(0, WithRefundFailureRate(1))
	res, err = failing.Refund(context.Background(), domain.RefundRequest{TransactionID: "txn_1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonRefundProcessing, res.FailureReason)
	assert.Empty(t, res.RefundID)
}

func TestDetectCardBrand(t *testing.T) {
	assert.Equal(t, BrandVisa, DetectCardBrand("4111"))
	assert.Equal(t, BrandMastercard, DetectCardBrand("5300"))
	assert.Equal(t, BrandUnknown, DetectCardBrand("5600"))
	assert.Equal(t, BrandAmex, DetectCardBrand("3400"))
	assert.Equal(t, BrandDiscover, DetectCardBrand("6500"))
	assert.Equal(t, BrandUnknown, DetectCardBrand("9999"))
}
