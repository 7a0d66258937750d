package gateway

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	// DefaultFailureRate — вероятность случайного отказа для нефиксированных карт.
	DefaultFailureRate = 0.1
	// DefaultRefundFailureRate — вероятность отказа в возврате.
	DefaultRefundFailureRate = 0.02
	// DefaultMinDelay и DefaultMaxDelay задают окно имитации задержки процессора.
	DefaultMinDelay = 200 * time.Millisecond
	DefaultMaxDelay = 800 * time.Millisecond
)

// Причины отказа шлюза.
const (
	ReasonCardDeclined      = "card_declined"
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonProcessingError   = "processing_error"
	ReasonExpiredCard       = "expired_card"
	ReasonRefundProcessing  = "refund_processing_error"
)

// Бренды карт.
const (
	BrandVisa       = "Visa"
	BrandMastercard = "Mastercard"
	BrandAmex       = "Amex"
	BrandDiscover   = "Discover"
	BrandUnknown    = "Unknown"
)

type fixtureCard struct {
	brand string
	// reason пустой для карт, которые всегда проходят.
	reason string
}

var fixtureCards = map[string]fixtureCard{
	"4242424242424242": {brand: BrandVisa},
	"4000000000000002": {brand: BrandVisa, reason: ReasonCardDeclined},
	"4000000000009995": {brand: BrandVisa, reason: ReasonInsufficientFunds},
	"5555555555554444": {brand: BrandMastercard},
	"378282246310005":  {brand: BrandAmex},
}

var genericFailureReasons = []string{
	ReasonInsufficientFunds,
	ReasonCardDeclined,
	ReasonProcessingError,
	ReasonExpiredCard,
}

var (
	visaPrefix       = regexp.MustCompile(`^4`)
	mastercardPrefix = regexp.MustCompile(`^5[1-5]`)
	amexPrefix       = regexp.MustCompile(`^3[47]`)
	discoverPrefix   = regexp.MustCompile(`^6`)
	whitespace       = regexp.MustCompile(`\s+`)
)

// DetectCardBrand определяет бренд по префиксу номера.
func DetectCardBrand(number string) string {
	switch {
	case visaPrefix.MatchString(number):
		return BrandVisa
	case mastercardPrefix.MatchString(number):
		return BrandMastercard
	case amexPrefix.MatchString(number):
		return BrandAmex
	case discoverPrefix.MatchString(number):
		return BrandDiscover
	default:
		return BrandUnknown
	}
}

// Sleeper ожидает d или отмену ctx.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Options задаёт параметры симулятора.
type Options struct {
	FailureRate       float64
	RefundFailureRate float64
	MinDelay          time.Duration
	MaxDelay          time.Duration
	Rand              *rand.Rand
	Clock             func() time.Time
	Sleeper           Sleeper
	Logger            *log.Entry
}

// Option настраивает Simulator.
type Option func(*Options)

// WithFailureRate задаёт вероятность случайного отказа списания.
func WithFailureRate(rate float64) Option {
	return func(o *Options) { o.FailureRate = rate }
}

// WithRefundFailureRate задаёт вероятность отказа возврата.
func WithRefundFailureRate(rate float64) Option {
	return func(o *Options) { o.RefundFailureRate = rate }
}

// WithDelay задаёт окно задержки.
func WithDelay(minDelay, maxDelay time.Duration) Option {
	return func(o *Options) {
		o.MinDelay = minDelay
		o.MaxDelay = maxDelay
	}
}

// WithRand фиксирует источник случайности.
func WithRand(r *rand.Rand) Option {
	return func(o *Options) { o.Rand = r }
}

// WithClock подменяет часы.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// WithSleeper подменяет ожидание.
func WithSleeper(s Sleeper) Option {
	return func(o *Options) { o.Sleeper = s }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// Simulator — имитация платёжного процессора без состояния и знаний о заказах.
type Simulator struct {
	failureRate       float64
	refundFailureRate float64
	minDelay          time.Duration
	maxDelay          time.Duration
	clock             func() time.Time
	sleep             Sleeper
	logger            *log.Entry

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulator создаёт симулятор.
func NewSimulator(options ...Option) *Simulator {
	opts := Options{
		FailureRate:       DefaultFailureRate,
		RefundFailureRate: DefaultRefundFailureRate,
		MinDelay:          DefaultMinDelay,
		MaxDelay:          DefaultMaxDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.FailureRate < 0 || opts.FailureRate > 1 {
		opts.FailureRate = DefaultFailureRate
	}
	if opts.RefundFailureRate < 0 || opts.RefundFailureRate > 1 {
		opts.RefundFailureRate = DefaultRefundFailureRate
	}
	if opts.MinDelay < 0 {
		opts.MinDelay = 0
	}
	if opts.MaxDelay < opts.MinDelay {
		opts.MaxDelay = opts.MinDelay
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Sleeper == nil {
		opts.Sleeper = sleepContext
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "gateway-simulator")
	}

	return &Simulator{
		failureRate:       opts.FailureRate,
		refundFailureRate: opts.RefundFailureRate,
		minDelay:          opts.MinDelay,
		maxDelay:          opts.MaxDelay,
		clock:             opts.Clock,
		sleep:             opts.Sleeper,
		logger:            opts.Logger,
		rnd:               opts.Rand,
	}
}

// Charge имитирует списание. Ошибка возвращается только при отмене ctx.
func (s *Simulator) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	if err := s.sleep(ctx, s.delay()); err != nil {
		return domain.ChargeResult{}, err
	}

	card := whitespace.ReplaceAllString(req.CardNumber, "")
	if card != "" {
		last4 := card
		if len(card) > 4 {
			last4 = card[len(card)-4:]
		}
		if fixture, ok := fixtureCards[card]; ok {
			if fixture.reason != "" {
				return s.failure(req, fixture.reason, last4, fixture.brand), nil
			}
			return s.success(req, last4, fixture.brand), nil
		}

		brand := DetectCardBrand(card)
		if s.float() < s.failureRate {
			return s.failure(req, ReasonCardDeclined, last4, brand), nil
		}
		return s.success(req, last4, brand), nil
	}

	method := string(req.Method)
	if method == "" {
		method = string(domain.PaymentMethodSimulated)
	}
	if s.float() < s.failureRate {
		return s.failure(req, genericFailureReasons[s.intn(len(genericFailureReasons))], "", method), nil
	}
	return s.success(req, "", method), nil
}

// Refund имитирует возврат; почти всегда успешен.
func (s *Simulator) Refund(ctx context.Context, req domain.RefundRequest) (domain.RefundResult, error) {
	if err := s.sleep(ctx, s.delay()); err != nil {
		return domain.RefundResult{}, err
	}

	now := s.clock().UTC()
	if s.float() < s.refundFailureRate {
		s.logger.WithField("transaction_id", req.TransactionID).Warn("simulated refund failure")
		return domain.RefundResult{FailureReason: ReasonRefundProcessing, ProcessedAt: now}, nil
	}
	return domain.RefundResult{
		Success:     true,
		RefundID:    "ref_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + s.suffix(6),
		ProcessedAt: now,
	}, nil
}

func (s *Simulator) success(req domain.ChargeRequest, last4, brand string) domain.ChargeResult {
	now := s.clock().UTC()
	txn := "txn_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + s.suffix(6)
	return domain.ChargeResult{
		Success:       true,
		TransactionID: txn,
		CardLast4:     last4,
		CardBrand:     brand,
		ProcessedAt:   now,
		Response:      s.response(req, "succeeded", txn, ""),
	}
}

func (s *Simulator) failure(req domain.ChargeRequest, reason, last4, brand string) domain.ChargeResult {
	now := s.clock().UTC()
	return domain.ChargeResult{
		FailureReason: reason,
		CardLast4:     last4,
		CardBrand:     brand,
		ProcessedAt:   now,
		Response:      s.response(req, "failed", "", reason),
	}
}

func (s *Simulator) response(req domain.ChargeRequest, status, txn, reason string) map[string]any {
	resp := map[string]any{
		"simulated": true,
		"status":    status,
		"amount":    req.Amount.String(),
		"currency":  domain.NormalizeCurrency(req.Currency),
	}
	if txn != "" {
		resp["transactionId"] = txn
	}
	if reason != "" {
		resp["failureReason"] = reason
	}
	return resp
}

func (s *Simulator) delay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.int63n(int64(span)+1))
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func (s *Simulator) suffix(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(base36[s.intn(len(base36))])
	}
	return b.String()
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *Simulator) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

func (s *Simulator) int63n(n int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Int63n(n)
}

var _ domain.PaymentGateway = (*Simulator)(nil)
