package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/fulfillment/internal/auth"
	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/httpapi"
	"github.com/vladislavdragonenkov/fulfillment/internal/wire"
)

const (
	defaultQty  = 1
	tokenTTL    = time.Hour
	codeNetwork = "network"
)

type loadMode string

const (
	modeCreate          loadMode = "create"
	modeCreatePay       loadMode = "create-pay"
	modeCreatePayRefund loadMode = "create-pay-refund"
)

type config struct {
	ordersURL   string
	paymentsURL string
	jwtSecret   string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	mode        loadMode
	refundRate  int
	productID   string
	card        string
	customerTag string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{
		methods: make(map[string]*methodStats),
	}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.methods[method]
	if !exists {
		stats = &methodStats{
			codes: make(map[string]int64),
		}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	scenarioStats := c.methods["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string

	flag.StringVar(&cfg.ordersURL, "orders-url", "http://localhost:3003", "order-service public base URL")
	flag.StringVar(&cfg.paymentsURL, "payments-url", "http://localhost:3004", "payment-service public base URL")
	flag.StringVar(&cfg.jwtSecret, "jwt-secret", "", "HS256 secret used to sign test tokens (fallback: JWT_SECRET)")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.IntVar(&cfg.connections, "connections", 20, "max HTTP connections per host")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-pay | create-pay-refund")
	flag.IntVar(&cfg.refundRate, "refund-rate", 0, "refund probability in percent for create-pay mode (0..100)")
	flag.StringVar(&cfg.productID, "product", "", "catalog product id to order")
	flag.StringVar(&cfg.card, "card", "4242424242424242", "card number sent with payment")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if strings.TrimSpace(cfg.jwtSecret) == "" {
		cfg.jwtSecret = os.Getenv("JWT_SECRET")
	}
	cfg.ordersURL = strings.TrimRight(strings.TrimSpace(cfg.ordersURL), "/")
	cfg.paymentsURL = strings.TrimRight(strings.TrimSpace(cfg.paymentsURL), "/")

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.refundRate < 0 || cfg.refundRate > 100 {
		return cfg, errors.New("refund-rate must be between 0 and 100")
	}
	if cfg.ordersURL == "" {
		return cfg, errors.New("orders-url is required")
	}
	if cfg.paymentsURL == "" && cfg.mode != modeCreate {
		return cfg, errors.New("payments-url is required for payment modes")
	}
	if strings.TrimSpace(cfg.jwtSecret) == "" {
		return cfg, errors.New("jwt-secret is required (-jwt-secret or JWT_SECRET)")
	}
	if strings.TrimSpace(cfg.productID) == "" {
		return cfg, errors.New("product is required")
	}
	if strings.TrimSpace(cfg.customerTag) == "" {
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreatePay:
		return modeCreatePay, nil
	case modeCreatePayRefund:
		return modeCreatePayRefund, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	result, err := run(ctx, cfg)
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// loadClient ходит в публичные API сервисов от имени тестовых пользователей.
type loadClient struct {
	http       *http.Client
	cfg        config
	adminToken string
}

func newLoadClient(cfg config) (*loadClient, error) {
	adminToken, err := auth.Issue(cfg.jwtSecret, cfg.customerTag+"-admin", domain.RoleAdmin, tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue admin token: %w", err)
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.connections
	transport.MaxIdleConnsPerHost = cfg.connections
	return &loadClient{
		http:       &http.Client{Transport: transport, Timeout: cfg.timeout},
		cfg:        cfg,
		adminToken: adminToken,
	}, nil
}

func run(ctx context.Context, cfg config) (report, error) {
	lc, err := newLoadClient(cfg)
	if err != nil {
		return report{}, err
	}
	defer lc.http.CloseIdleConnections()

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		g.Go(func() error {
			for id := range jobs {
				// провал сценария уже учтён в collector
				_ = lc.runScenario(gctx, id, runID, col)
			}
			return nil
		})
	}

	dispatchJobs(gctx, jobs, cfg)
	if err := g.Wait(); err != nil {
		return report{}, err
	}

	return col.buildReport(startedAt, time.Since(startedAt)), nil
}

func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- i:
			}
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func (lc *loadClient) runScenario(ctx context.Context, index int, runID string, col *collector) error {
	scenarioStart := time.Now()
	scenarioCode := strconv.Itoa(http.StatusOK)
	scenarioOK := true
	defer func() {
		col.record("scenario", time.Since(scenarioStart), scenarioCode, scenarioOK)
	}()
	fail := func(err error) error {
		scenarioOK = false
		scenarioCode = responseCode(err)
		return err
	}

	customerID := fmt.Sprintf("%s-%s-%d", lc.cfg.customerTag, runID, index)
	token, err := auth.Issue(lc.cfg.jwtSecret, customerID, domain.RoleCustomer, tokenTTL)
	if err != nil {
		return fail(err)
	}

	req := wire.CreateOrderRequest{
		Items: []wire.CreateOrderItem{{ProductID: lc.cfg.productID, Quantity: defaultQty}},
		ShippingAddress: wire.ShippingAddress{
			Street:  "1 Load Test Ave",
			City:    "Springfield",
			Zip:     "00000",
			Country: "US",
		},
		Notes: "load test " + runID,
	}
	if lc.cfg.mode == modeCreatePayRefund {
		req.Payment = &wire.PaymentOptions{CardNumber: lc.cfg.card}
	}

	var created wire.OrderResponse
	createKey := fmt.Sprintf("lt-create-%s-%d", runID, index)
	if err := lc.call(ctx, col, "CreateOrder", http.MethodPost, lc.cfg.ordersURL+"/api/orders", token, createKey, req, &created); err != nil {
		return fail(err)
	}
	orderID := created.Order.ID
	if orderID == "" {
		return fail(errors.New("create response returned empty order id"))
	}

	if lc.cfg.mode == modeCreate {
		return nil
	}

	payment := created.Payment
	if lc.cfg.mode == modeCreatePay {
		var paid wire.OrderResponse
		body := wire.PaymentOptions{CardNumber: lc.cfg.card}
		if err := lc.call(ctx, col, "PayOrder", http.MethodPost, lc.cfg.ordersURL+"/api/orders/"+orderID+"/pay", token, "", body, &paid); err != nil {
			return fail(err)
		}
		payment = paid.Payment
	}
	if payment == nil || payment.ID == "" {
		return fail(errors.New("payment response returned empty payment id"))
	}

	if lc.cfg.mode != modeCreatePayRefund && !shouldRefundScenario(index, lc.cfg.refundRate) {
		return nil
	}
	// отклонённый платёж возвращать нечего
	if payment.Status != string(domain.PaymentStatusSucceeded) {
		return nil
	}
	var refunded wire.PaymentResponse
	refundURL := lc.cfg.paymentsURL + "/api/payments/" + payment.ID + "/refund"
	if err := lc.call(ctx, col, "RefundPayment", http.MethodPost, refundURL, lc.adminToken, "", nil, &refunded); err != nil {
		return fail(err)
	}
	return nil
}

// statusError — ответ сервиса с кодом вне 2xx.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func (lc *loadClient) call(
	ctx context.Context,
	col *collector,
	name, method, url, token, idempotencyKey string,
	body, out any,
) error {
	start := time.Now()
	err := lc.do(ctx, method, url, token, idempotencyKey, body, out)
	col.record(name, time.Since(start), responseCode(err), err == nil)
	return err
}

func (lc *loadClient) do(ctx context.Context, method, url, token, idempotencyKey string, body, out any) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if idempotencyKey != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, idempotencyKey)
	}

	resp, err := lc.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func responseCode(err error) string {
	if err == nil {
		return strconv.Itoa(http.StatusOK)
	}
	var se *statusError
	if errors.As(err, &se) {
		return strconv.Itoa(se.status)
	}
	return codeNetwork
}

func shouldRefundScenario(index, refundRate int) bool {
	if refundRate <= 0 {
		return false
	}
	if refundRate >= 100 {
		return true
	}
	return index%100 < refundRate
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode,
		runTarget(cfg),
		result.TotalScenarios,
		result.SuccessScenarios,
		result.FailedScenarios,
		result.ErrorRate,
	)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	methodNames := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name == "scenario" {
			continue
		}
		methodNames = append(methodNames, name)
	}
	sort.Strings(methodNames)
	for _, name := range methodNames {
		stats := result.Methods[name]
		fmt.Printf(
			"%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name,
			stats.Calls,
			stats.Success,
			stats.Failed,
			stats.ErrorRate,
			stats.LatencyMs.P95,
		)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
