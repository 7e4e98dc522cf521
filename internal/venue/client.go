package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"perpmm/pkg/types"
)

// MaxAtomicActions is the bounded chunk size for atomic submissions.
const MaxAtomicActions = 4

// restRateLimit is a conservative per-second budget for authenticated REST
// calls against the local venue; generous enough not to throttle the sync
// loops at their configured intervals.
const restRateLimit = 10

// Client is the local venue's REST client: authenticated account/position
// reads, orderbook snapshots, and atomic place/cancel submission.
type Client struct {
	http   *resty.Client
	signer *Signer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	dryRun bool
	logger *slog.Logger
}

// NewClient builds a REST client for the given base URL.
func NewClient(baseURL string, signer *Signer, dryRun bool, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	breakerSettings := gobreaker.Settings{
		Name:        "venue-rest",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &Client{
		http:    httpClient,
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(restRateLimit), restRateLimit),
		breaker: gobreaker.NewCircuitBreaker[*resty.Response](breakerSettings),
		dryRun:  dryRun,
		logger:  logger.With("component", "venue_rest"),
	}
}

// do runs one resty request through the rate limiter and circuit breaker.
func (c *Client) do(ctx context.Context, fn func() (*resty.Response, error)) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return c.breaker.Execute(fn)
}

// OrderbookSnapshot fetches the current order book for the configured
// market.
func (c *Client) OrderbookSnapshot(ctx context.Context, symbol string) (types.OrderbookSnapshot, error) {
	var snap types.OrderbookSnapshot
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(&snap).
			Get("/book")
	})
	if err != nil {
		return types.OrderbookSnapshot{}, fmt.Errorf("orderbook snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderbookSnapshot{}, fmt.Errorf("orderbook snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}
	return snap, nil
}

// wireMarketInfo is the local venue's symbol-metadata response: the
// resolved market_id plus tick/lot alignment rules for the configured
// symbol.
type wireMarketInfo struct {
	MarketID      string `json:"market_id"`
	Symbol        string `json:"symbol"`
	Tick          string `json:"tick"`
	Lot           string `json:"lot"`
	PriceDecimals int32  `json:"price_decimals"`
	SizeDecimals  int32  `json:"size_decimals"`
}

// MarketInfo resolves symbol metadata: market_id and tick/lot alignment
// rules, used to build MarketParams at startup. An unknown symbol is a
// fatal startup condition.
func (c *Client) MarketInfo(ctx context.Context, symbol string) (types.MarketParams, error) {
	var wire wireMarketInfo
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&wire).
			Get("/markets/" + symbol)
	})
	if err != nil {
		return types.MarketParams{}, fmt.Errorf("market info: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketParams{}, fmt.Errorf("market info: status %d: %s", resp.StatusCode(), resp.String())
	}
	tick, err := decimal.NewFromString(wire.Tick)
	if err != nil {
		return types.MarketParams{}, fmt.Errorf("market info: invalid tick %q: %w", wire.Tick, err)
	}
	lot, err := decimal.NewFromString(wire.Lot)
	if err != nil {
		return types.MarketParams{}, fmt.Errorf("market info: invalid lot %q: %w", wire.Lot, err)
	}
	return types.MarketParams{
		MarketID:      wire.MarketID,
		Symbol:        wire.Symbol,
		Tick:          tick,
		Lot:           lot,
		PriceDecimals: wire.PriceDecimals,
		SizeDecimals:  wire.SizeDecimals,
	}, nil
}

// UserSnapshot fetches authenticated user info: open orders, positions,
// keyed by account.
func (c *Client) UserSnapshot(ctx context.Context, accountID string) (types.UserSnapshot, error) {
	var snap types.UserSnapshot
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetHeader("X-Account-Id", accountID).
			SetResult(&snap).
			Get("/account")
	})
	if err != nil {
		return types.UserSnapshot{}, fmt.Errorf("user snapshot: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.UserSnapshot{}, fmt.Errorf("user snapshot: status %d: %s", resp.StatusCode(), resp.String())
	}
	return snap, nil
}

// atomicSubmitRequest is one chunk's wire payload.
type atomicSubmitRequest struct {
	Account     string              `json:"account"`
	Fingerprint string              `json:"fingerprint"`
	Signature   string              `json:"signature"`
	Actions     []types.AtomicAction `json:"actions"`
}

// SubmitAtomic submits one chunk of at most MaxAtomicActions place/cancel
// actions and returns per-action results in order. The fingerprint is a
// fresh UUID per chunk, giving at-most-once-per-fingerprint semantics even
// under client-side retry.
func (c *Client) SubmitAtomic(ctx context.Context, actions []types.AtomicAction) ([]types.AtomicResult, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	if len(actions) > MaxAtomicActions {
		return nil, fmt.Errorf("atomic chunk exceeds MAX_ATOMIC_ACTIONS=%d: got %d", MaxAtomicActions, len(actions))
	}

	fingerprint := uuid.NewString()

	if c.dryRun {
		c.logger.Info("dry-run atomic submit", "fingerprint", fingerprint, "actions", len(actions))
		results := make([]types.AtomicResult, len(actions))
		for i := range actions {
			results[i] = types.AtomicResult{Success: true, OrderID: fmt.Sprintf("dry-run-%s", uuid.NewString())}
		}
		return results, nil
	}

	sig, err := c.signer.SignAtomicSubmission(fingerprint, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("sign atomic submission: %w", err)
	}

	req := atomicSubmitRequest{
		Account:     c.signer.AccountID(),
		Fingerprint: fingerprint,
		Signature:   sig,
		Actions:     actions,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal atomic request: %w", err)
	}

	var results []types.AtomicResult
	resp, err := c.do(ctx, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(&results).
			Post("/atomic")
	})
	if err != nil {
		return nil, fmt.Errorf("submit atomic: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("submit atomic: status %d: %s", resp.StatusCode(), resp.String())
	}
	return results, nil
}
