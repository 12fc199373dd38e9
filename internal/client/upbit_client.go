package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"services/backtest-service/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	UpbitAPIBaseURL      = "https://api.upbit.com"
	MaxCandlesPerRequest = 200
)

// UpbitOptions configures an UpbitClient
type UpbitOptions struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries uint64
	PageSize   int
}

// UpbitClient fetches candles from the Upbit quotation API
type UpbitClient struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// upbitCandle is one element of a candle response. Upbit returns the
// newest candle first.
type upbitCandle struct {
	Market      string          `json:"market"`
	StartUTC    string          `json:"candle_date_time_utc"`
	Open        decimal.Decimal `json:"opening_price"`
	High        decimal.Decimal `json:"high_price"`
	Low         decimal.Decimal `json:"low_price"`
	Close       decimal.Decimal `json:"trade_price"`
	Timestamp   int64           `json:"timestamp"`
	TradeVolume decimal.Decimal `json:"candle_acc_trade_volume"`
}

// NewUpbitClient creates a new Upbit API client
func NewUpbitClient(opts UpbitOptions, logger *zap.Logger) *UpbitClient {
	if opts.BaseURL == "" {
		opts.BaseURL = UpbitAPIBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PageSize <= 0 || opts.PageSize > MaxCandlesPerRequest {
		opts.PageSize = MaxCandlesPerRequest
	}
	return &UpbitClient{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		pageSize:   opts.PageSize,
		maxRetries: opts.MaxRetries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger,
	}
}

// FetchCandles pages backwards from to until count candles are collected or
// the history is exhausted. Failures are reported as model.ErrUpstreamFailure.
func (c *UpbitClient) FetchCandles(
	ctx context.Context,
	market string,
	unit model.CandleUnit,
	count int,
	to *time.Time,
) ([]model.Candle, error) {
	path, err := candlePath(unit)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		return []model.Candle{}, nil
	}

	seen := make(map[int64]struct{}, count)
	candles := make([]model.Candle, 0, count)
	cursor := to

	for len(candles) < count {
		size := count - len(candles)
		if size > c.pageSize {
			size = c.pageSize
		}

		page, err := c.fetchPage(ctx, path, market, size, cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching %s %s candles: %w", model.ErrUpstreamFailure, market, unit, err)
		}
		if len(page) == 0 {
			break
		}

		added := 0
		oldest := page[0].Timestamp
		for _, candle := range page {
			if candle.Timestamp < oldest {
				oldest = candle.Timestamp
			}
			if _, dup := seen[candle.Timestamp]; dup {
				continue
			}
			seen[candle.Timestamp] = struct{}{}
			candles = append(candles, candle)
			added++
		}

		if added == 0 || len(page) < size {
			break
		}
		next := time.UnixMilli(oldest).UTC()
		cursor = &next
	}

	c.logger.Debug("Fetched candles from Upbit",
		zap.String("market", market),
		zap.String("unit", string(unit)),
		zap.Int("requested", count),
		zap.Int("received", len(candles)))

	return normalize(candles, count), nil
}

func (c *UpbitClient) fetchPage(ctx context.Context, path, market string, size int, to *time.Time) ([]model.Candle, error) {
	params := url.Values{}
	params.Add("market", market)
	params.Add("count", strconv.Itoa(size))
	if to != nil {
		params.Add("to", to.UTC().Format("2006-01-02T15:04:05Z"))
	}
	reqURL := c.baseURL + path + "?" + params.Encode()

	var raw []upbitCandle
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("failed to fetch candles: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			err := fmt.Errorf("Upbit API returned status code %d: %s", resp.StatusCode, string(bodyBytes))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return err
			}
			return backoff.Permanent(err)
		}

		raw = raw[:0]
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode candles: %w", err))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Upbit request failed, retrying after backoff",
			zap.String("market", market),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		c.logger.Error("Failed to fetch candles from Upbit",
			zap.String("market", market),
			zap.String("url", reqURL),
			zap.Error(err))
		return nil, err
	}

	candles := make([]model.Candle, 0, len(raw))
	for i, r := range raw {
		candle, ok := r.toModel()
		if !ok {
			c.logger.Warn("Skipping malformed candle", zap.Int("index", i), zap.Any("raw_data", r))
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (r upbitCandle) toModel() (model.Candle, bool) {
	ts := r.Timestamp
	if start, err := time.Parse("2006-01-02T15:04:05", r.StartUTC); err == nil {
		ts = start.UnixMilli()
	}
	if ts <= 0 || !r.Close.IsPositive() {
		return model.Candle{}, false
	}
	return model.Candle{
		Timestamp: ts,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.TradeVolume,
	}, true
}

// candlePath maps a candle unit to its Upbit endpoint
func candlePath(unit model.CandleUnit) (string, error) {
	if m := unit.Minutes(); m > 0 {
		return fmt.Sprintf("/v1/candles/minutes/%d", m), nil
	}
	switch unit {
	case model.UnitDay:
		return "/v1/candles/days", nil
	case model.UnitWeek:
		return "/v1/candles/weeks", nil
	case model.UnitMonth:
		return "/v1/candles/months", nil
	default:
		return "", fmt.Errorf("%w: unknown candle unit %q", model.ErrInvalidRequest, unit)
	}
}
