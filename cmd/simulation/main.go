package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-brokerage/internal/config"
	"github.com/ksred/klear-brokerage/internal/database"
	"github.com/ksred/klear-brokerage/internal/server"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	numCustomers       = 8
	minOrdersPerTrader = 10
	maxOrdersPerTrader = 40
)

var tradable = []types.Instrument{types.InstrumentUSD, types.InstrumentEUR, types.InstrumentGBP, types.InstrumentXAU}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	gin.SetMode(gin.ReleaseMode)
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// calculate computes min, max, mean, median, p95 and p99 durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// statsRecorder is shared by every trader goroutine
type statsRecorder struct {
	mu    sync.Mutex
	stats map[string]*routeStats
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{
		stats: map[string]*routeStats{
			"register": {name: "Register"},
			"deposit":  {name: "Deposit"},
			"withdraw": {name: "Withdraw"},
			"create":   {name: "Create Order"},
			"cancel":   {name: "Cancel Order"},
			"match":    {name: "Match Order"},
			"assets":   {name: "List Assets"},
		},
	}
}

func (r *statsRecorder) record(route string, d time.Duration, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs := r.stats[route]
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
	if failed {
		rs.failures++
	}
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (r *statsRecorder) printPerformanceStats() {
	routes := make([]string, 0, len(r.stats))
	for route := range r.stats {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, route := range routes {
		stats := r.stats[route]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Microsecond),
			max.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// apiResponse mirrors the envelope every endpoint answers with
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// trader is one simulated customer talking to the API
type trader struct {
	baseURL    string
	client     *http.Client
	stats      *statsRecorder
	token      string
	customerID string

	// expected holds the size each asset must have once every order is final
	expected map[types.Instrument]decimal.Decimal
	summary  traderSummary
}

type traderSummary struct {
	created  int
	rejected int
	canceled int
	matched  int
	withdraw int
	declined int
}

func (t *trader) call(route, method, path string, body interface{}, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, t.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	if route == "create" {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.stats.record(route, time.Since(start), true)
		return 0, err
	}
	defer resp.Body.Close()

	var envelope apiResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&envelope)
	t.stats.record(route, time.Since(start), resp.StatusCode >= 500 || decodeErr != nil)
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode %s response: %w", route, decodeErr)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return resp.StatusCode, fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return resp.StatusCode, fmt.Errorf("%s failed with status %d", route, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (t *trader) register(id int) error {
	var token struct {
		Token      string `json:"jwt_token"`
		CustomerID string `json:"customer_id"`
	}
	_, err := t.call("register", http.MethodPost, "/api/v1/auth/register", map[string]string{
		"name":     fmt.Sprintf("Trader %d", id),
		"email":    fmt.Sprintf("trader-%d-%s@klear.local", id, uuid.New().String()[:8]),
		"password": "simulation-password",
	}, &token)
	if err != nil {
		return err
	}
	t.token = token.Token
	t.customerID = token.CustomerID
	return nil
}

type cashResult struct {
	Status types.TransactionStatus `json:"status"`
}

func (t *trader) moveCash(direction types.Direction, amount decimal.Decimal) error {
	route, path := "deposit", "/api/v1/balance/deposit/"
	if direction == types.DirectionWithdraw {
		route, path = "withdraw", "/api/v1/balance/withdraw/"
	}

	var result cashResult
	if _, err := t.call(route, http.MethodPost, path+t.customerID, map[string]decimal.Decimal{"amount": amount}, &result); err != nil {
		return err
	}

	if result.Status != types.TransactionApproved {
		t.summary.declined++
		return nil
	}
	if direction == types.DirectionDeposit {
		t.adjust(types.SettlementInstrument, amount)
	} else {
		t.summary.withdraw++
		t.adjust(types.SettlementInstrument, amount.Neg())
	}
	return nil
}

func (t *trader) adjust(instrument types.Instrument, delta decimal.Decimal) {
	t.expected[instrument] = t.expected[instrument].Add(delta)
}

type orderView struct {
	OrderID    string            `json:"order_id"`
	Instrument types.Instrument  `json:"instrument"`
	Side       types.Side        `json:"side"`
	Size       decimal.Decimal   `json:"size"`
	Price      decimal.Decimal   `json:"price"`
	Status     types.OrderStatus `json:"status"`
	Version    int64             `json:"version"`
}

// trade places one random order and immediately cancels or matches it
func (t *trader) trade() error {
	side := types.SideBuy
	if rand.Intn(3) == 0 {
		side = types.SideSell
	}
	req := map[string]interface{}{
		"instrument": tradable[rand.Intn(len(tradable))],
		"side":       side,
		"size":       decimal.NewFromInt(int64(rand.Intn(20) + 1)),
		"price":      decimal.NewFromInt(int64(rand.Intn(900) + 100)),
	}

	var order orderView
	status, err := t.call("create", http.MethodPost, "/api/v1/orders", req, &order)
	if err != nil {
		if status == http.StatusBadRequest {
			t.summary.rejected++
			return nil
		}
		return err
	}
	t.summary.created++

	route, method, path := "cancel", http.MethodDelete, "/api/v1/orders/"+order.OrderID
	if rand.Intn(2) == 0 {
		route, method, path = "match", http.MethodPut, "/api/v1/orders/"+order.OrderID+"/match"
	}
	path = fmt.Sprintf("%s?expected_version=%d", path, order.Version)

	var settled orderView
	if _, err := t.call(route, method, path, nil, &settled); err != nil {
		return fmt.Errorf("order %s left pending: %w", order.OrderID, err)
	}

	if settled.Status == types.OrderStatusCanceled {
		t.summary.canceled++
		return nil
	}
	t.summary.matched++
	if settled.Side == types.SideBuy {
		t.adjust(types.SettlementInstrument, settled.Price.Neg())
		t.adjust(settled.Instrument, settled.Size)
	} else {
		t.adjust(types.SettlementInstrument, settled.Price)
		t.adjust(settled.Instrument, settled.Size.Neg())
	}
	return nil
}

type assetView struct {
	Instrument types.Instrument `json:"instrument"`
	Size       decimal.Decimal  `json:"size"`
	UsableSize decimal.Decimal  `json:"usable_size"`
}

// verify compares stored assets with the amounts the trader expects. With no
// pending orders left, every asset must also be fully usable.
func (t *trader) verify() []string {
	var page struct {
		Assets []assetView `json:"assets"`
	}
	if _, err := t.call("assets", http.MethodGet, "/api/v1/assets/"+t.customerID+"?page_size=100", nil, &page); err != nil {
		return []string{fmt.Sprintf("customer %s: %v", t.customerID, err)}
	}

	var problems []string
	stored := make(map[types.Instrument]assetView, len(page.Assets))
	for _, a := range page.Assets {
		stored[a.Instrument] = a
		if !a.Size.Equal(a.UsableSize) {
			problems = append(problems, fmt.Sprintf("customer %s %s: size %s != usable %s",
				t.customerID, a.Instrument, a.Size, a.UsableSize))
		}
	}
	for instrument, want := range t.expected {
		got := stored[instrument].Size
		if !got.Equal(want) {
			problems = append(problems, fmt.Sprintf("customer %s %s: size %s, expected %s",
				t.customerID, instrument, got, want))
		}
	}
	return problems
}

func (t *trader) run(id int) error {
	if err := t.register(id); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := t.moveCash(types.DirectionDeposit, decimal.NewFromInt(int64(rand.Intn(20000)+5000))); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}

	orders := rand.Intn(maxOrdersPerTrader-minOrdersPerTrader) + minOrdersPerTrader
	for i := 0; i < orders; i++ {
		if err := t.trade(); err != nil {
			return err
		}
		if rand.Intn(5) == 0 {
			amount := decimal.NewFromInt(int64(rand.Intn(3000) + 1))
			if err := t.moveCash(types.DirectionWithdraw, amount); err != nil {
				return fmt.Errorf("withdraw: %w", err)
			}
		}
	}
	return nil
}

// startServer boots the full API on a loopback port backed by a throwaway
// SQLite database and returns its base URL
func startServer(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "klear-simulation")
	if err != nil {
		return "", err
	}

	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	cfg.Database = config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(dir, "simulation.db")}
	cfg.HTTP.RateLimit = false

	db, err := database.NewDatabase(cfg.Database)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	app, err := server.New(db, cfg)
	if err != nil {
		return "", err
	}
	app.Start(ctx)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	go func() {
		if err := http.Serve(listener, app.Router); err != nil {
			log.Error().Err(err).Msg("Simulation server stopped")
		}
	}()

	return "http://" + listener.Addr().String(), nil
}

// main runs the brokerage simulation: several customers trade concurrently
// and every customer's final assets are checked against what their approved
// cash movements and matched orders add up to
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseURL := os.Getenv("SIM_SERVER_ADDRESS")
	if baseURL == "" {
		var err error
		baseURL, err = startServer(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}
	log.Info().Str("base_url", baseURL).Int("customers", numCustomers).Msg("Starting simulation")

	stats := newStatsRecorder()
	client := &http.Client{Timeout: 10 * time.Second}
	traders := make([]*trader, numCustomers)
	errs := make([]error, numCustomers)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < numCustomers; i++ {
		traders[i] = &trader{
			baseURL:  baseURL,
			client:   client,
			stats:    stats,
			expected: make(map[types.Instrument]decimal.Decimal),
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs[id] = traders[id].run(id)
		}(i)
	}
	wg.Wait()
	duration := time.Since(start)

	var total traderSummary
	var problems []string
	for i, t := range traders {
		if errs[i] != nil {
			problems = append(problems, fmt.Sprintf("trader %d: %v", i, errs[i]))
			continue
		}
		problems = append(problems, t.verify()...)
		total.created += t.summary.created
		total.rejected += t.summary.rejected
		total.canceled += t.summary.canceled
		total.matched += t.summary.matched
		total.withdraw += t.summary.withdraw
		total.declined += t.summary.declined
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BROKERAGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Orders created:        %d
Orders rejected:       %d
Orders canceled:       %d
Orders matched:        %d
Withdrawals approved:  %d
Withdrawals declined:  %d
Duration:              %v
`, total.created, total.rejected, total.canceled, total.matched, total.withdraw, total.declined,
		duration.Round(time.Millisecond))

	stats.printPerformanceStats()

	if len(problems) > 0 {
		for _, p := range problems {
			log.Error().Msg(p)
		}
		log.Fatal().Int("problems", len(problems)).Msg("Conservation check failed")
	}
	log.Info().Msg("Conservation check passed")
}
