// Package gateway issues signed requests to the Binance USDT-M futures
// account API. It owns transport-level concerns: request signing, server
// time synchronization, the sliding request-weight budget, and retry with
// backoff parameterized by error kind.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terryso/binance-dashboard/internal/clock"
	"github.com/terryso/binance-dashboard/internal/domain"
	"github.com/terryso/binance-dashboard/pkg/retrier"
)

const (
	mainnetBaseURL = "https://fapi.binance.com"
	testnetBaseURL = "https://testnet.binancefuture.com"

	// Request weights per the futures API documentation.
	weightAccount      = 5
	weightPositionRisk = 5
	weightUserTrades   = 5
	weightIncome       = 30
	weightPing         = 1
	weightServerTime   = 1

	// The account API allows 2400 request weight per sliding minute.
	defaultWeightBudget = 2400
	weightWindow        = time.Minute
	defaultPaceRPS      = 10

	timeSyncInterval = 5 * time.Minute

	// Fallback cooldown when a rate-limit response carries no hint.
	defaultRetryAfter = time.Second
)

// Credentials is the immutable API credential pair. Rotation constructs a
// new Gateway; live credentials are never mutated.
type Credentials struct {
	APIKey    string
	APISecret string
}

// Config carries the gateway's construction parameters.
type Config struct {
	Credentials Credentials
	UseTestnet  bool
	Timeout     time.Duration
	RecvWindow  time.Duration
	MaxRetries  int
}

// Gateway is a signed HTTP client for the futures account endpoints.
type Gateway struct {
	apiKey  string
	signer  signer
	baseURL string
	timeout time.Duration
	recvWin time.Duration

	http    *http.Client
	limiter *limiter
	retrier *retrier.Retrier
	clk     clock.Clock
	logger  *zap.Logger

	timeOffsetMillis atomic.Int64
	lastTimeSync     atomic.Int64
	syncing          atomic.Bool
}

// New constructs a Gateway from immutable configuration.
func New(cfg Config, clk clock.Clock, logger *zap.Logger) *Gateway {
	baseURL := mainnetBaseURL
	if cfg.UseTestnet {
		baseURL = testnetBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	g := &Gateway{
		apiKey:  cfg.Credentials.APIKey,
		signer:  newSigner(cfg.Credentials.APISecret),
		baseURL: baseURL,
		timeout: cfg.Timeout,
		recvWin: cfg.RecvWindow,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(clk, defaultWeightBudget, weightWindow, defaultPaceRPS),
		clk:     clk,
		logger:  logger.Named("gateway"),
	}
	g.retrier = retrier.New(
		retrier.WithMaxRetries(cfg.MaxRetries),
		retrier.WithRetryIf(Retryable),
		retrier.WithDelayHint(retryAfterHint),
	)
	return g
}

// Retryable reports whether an error kind may be retried automatically.
// Auth and protocol failures cannot succeed on retry.
func Retryable(err error) bool {
	var authErr *AuthError
	var protoErr *ProtocolError
	if errors.As(err, &authErr) || errors.As(err, &protoErr) {
		return false
	}
	return true
}

// RetryAfter extracts the back-off hint from a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		if rlErr.RetryAfter > 0 {
			return rlErr.RetryAfter, true
		}
		return defaultRetryAfter, true
	}
	return 0, false
}

func retryAfterHint(err error) (time.Duration, bool) {
	return RetryAfter(err)
}

// Ping checks connectivity without authentication.
func (g *Gateway) Ping(ctx context.Context) error {
	var out struct{}
	return g.get(ctx, "/fapi/v1/ping", nil, weightPing, false, &out)
}

// Account fetches the account snapshot.
func (g *Gateway) Account(ctx context.Context) (domain.AccountSnapshot, error) {
	var resp accountResponse
	if err := g.get(ctx, "/fapi/v2/account", nil, weightAccount, true, &resp); err != nil {
		return domain.AccountSnapshot{}, err
	}
	return resp.toDomain(g.clk.Now())
}

// PositionRisk fetches open positions. Zero-size rows are pruned.
func (g *Gateway) PositionRisk(ctx context.Context) ([]domain.Position, error) {
	var resp []positionRiskEntry
	if err := g.get(ctx, "/fapi/v2/positionRisk", nil, weightPositionRisk, true, &resp); err != nil {
		return nil, err
	}

	positions := make([]domain.Position, 0, len(resp))
	for _, entry := range resp {
		p, keep, err := entry.toDomain()
		if err != nil {
			return nil, err
		}
		if keep {
			positions = append(positions, p)
		}
	}
	return positions, nil
}

// AccountTrades fetches recent fills, newest last, optionally filtered by
// symbol.
func (g *Gateway) AccountTrades(ctx context.Context, symbol string, limit int) ([]domain.Trade, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp []tradeEntry
	if err := g.get(ctx, "/fapi/v1/userTrades", params, weightUserTrades, true, &resp); err != nil {
		return nil, err
	}

	trades := make([]domain.Trade, 0, len(resp))
	for _, entry := range resp {
		t, err := entry.toDomain()
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// IncomeHistory fetches income ledger records inside [from, to].
func (g *Gateway) IncomeHistory(ctx context.Context, symbol string, from, to time.Time, limit int) ([]domain.IncomeRecord, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	if !from.IsZero() {
		params.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	}
	if !to.IsZero() {
		params.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp []incomeEntry
	if err := g.get(ctx, "/fapi/v1/income", params, weightIncome, true, &resp); err != nil {
		return nil, err
	}

	records := make([]domain.IncomeRecord, 0, len(resp))
	for _, entry := range resp {
		r, err := entry.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// get issues a GET request under the retry policy, decoding the JSON body
// into out.
func (g *Gateway) get(ctx context.Context, path string, params url.Values, weight int, signed bool, out any) error {
	g.maybeSyncTime()

	return g.retrier.Do(ctx, func(ctx context.Context) error {
		return g.doOnce(ctx, path, params, weight, signed, out)
	})
}

func (g *Gateway) doOnce(ctx context.Context, path string, params url.Values, weight int, signed bool, out any) error {
	if err := g.limiter.wait(ctx, weight); err != nil {
		return &TransientError{Msg: "rate budget wait interrupted", Err: err}
	}

	query := url.Values{}
	for k, vs := range params {
		query[k] = vs
	}
	if signed {
		query.Set("timestamp", strconv.FormatInt(g.timestamp(), 10))
		query.Set("recvWindow", strconv.FormatInt(g.recvWin.Milliseconds(), 10))
	}

	// The signature covers the canonical query exactly as sent, so it is
	// appended rather than merged into the sorted parameter set.
	rawQuery := canonicalQuery(query)
	if signed {
		rawQuery += "&signature=" + g.signer.sign(rawQuery)
	}

	reqURL := g.baseURL + path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &ProtocolError{Msg: "build request", Err: err}
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", g.apiKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return &TransientError{Msg: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return &TransientError{Msg: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := g.classifyBody(resp, body)
		g.logger.Warn("request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.Error(apiErr))
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ProtocolError{Msg: fmt.Sprintf("decode %s response", path), Err: err}
	}
	return nil
}

func (g *Gateway) classifyBody(resp *http.Response, body []byte) error {
	var wire struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	// The error body is best-effort JSON; classification falls back on the
	// HTTP status when it does not parse.
	_ = json.Unmarshal(body, &wire)

	var retryAfter time.Duration
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	if retryAfter == 0 {
		retryAfter = defaultRetryAfter
	}

	return classifyResponse(resp.StatusCode, wire.Code, wire.Msg, retryAfter)
}

// timestamp returns the signing timestamp adjusted by the known server
// time offset.
func (g *Gateway) timestamp() int64 {
	return g.clk.Now().UnixMilli() + g.timeOffsetMillis.Load()
}

// maybeSyncTime refreshes the server time offset in the background when
// the last sync is older than the sync interval.
func (g *Gateway) maybeSyncTime() {
	now := g.clk.Now().UnixMilli()
	last := g.lastTimeSync.Load()
	if last != 0 && now-last < timeSyncInterval.Milliseconds() {
		return
	}
	if !g.syncing.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer g.syncing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()

		var resp struct {
			ServerTime int64 `json:"serverTime"`
		}
		if err := g.doOnce(ctx, "/fapi/v1/time", nil, weightServerTime, false, &resp); err != nil {
			g.logger.Debug("server time sync failed", zap.Error(err))
			return
		}

		local := g.clk.Now().UnixMilli()
		g.timeOffsetMillis.Store(resp.ServerTime - local)
		g.lastTimeSync.Store(local)
	}()
}

// decimalField parses a wire decimal string, reporting a protocol error on
// malformed input.
func decimalField(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, &ProtocolError{Msg: fmt.Sprintf("malformed %s %q", name, value), Err: err}
	}
	return d, nil
}
