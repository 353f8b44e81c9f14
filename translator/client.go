package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onnwee/chatlens/telemetry"
)

// DefaultEndpoint is the public Google Translate "gtx" endpoint.
const DefaultEndpoint = "https://translate.googleapis.com/translate_a/single"

// Options configures a Client.
type Options struct {
	Endpoint string
	// Timeout bounds one HTTP request; zero leaves requests unbounded.
	Timeout       time.Duration
	MaxConcurrent int
	Cache         Cache
	UserAgent     string
}

// Client translates through the gtx endpoint with a result cache.
type Client struct {
	http     *resty.Client
	endpoint string
	cache    Cache
	limiter  *Limiter

	// generation counts cache clears; fetches that straddle one are not cached
	generation atomic.Uint64
}

// New builds a Client. A nil cache means an in-memory one.
func New(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	c := resty.New().SetTimeout(opts.Timeout)
	if opts.UserAgent != "" {
		c.SetHeader("User-Agent", opts.UserAgent)
	}
	return &Client{
		http:     c,
		endpoint: opts.Endpoint,
		cache:    opts.Cache,
		limiter:  NewLimiter(opts.MaxConcurrent),
	}
}

// Translate implements Translator.
func (c *Client) Translate(ctx context.Context, text, target, sourceHint string) (Result, error) {
	if sourceHint == "" {
		sourceHint = AutoDetect
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Result{DetectedSourceLanguage: sourceHint}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, canceled(err)
	}

	key := Key{Source: sourceHint, Target: target, Text: trimmed}
	cached, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("translation cache read failed", slog.Any("err", err), slog.String("component", "translator"))
	}
	telemetry.CacheLookup(ok)
	if ok {
		return cached, nil
	}

	if !c.limiter.Acquire(ctx) {
		return Result{}, canceled(ctx.Err())
	}
	defer c.limiter.Release()

	gen := c.generation.Load()
	res, err := c.fetch(ctx, key)
	if err != nil {
		return Result{}, err
	}
	// a late response for a canceled call is dropped, not cached
	if err := ctx.Err(); err != nil {
		return Result{}, canceled(err)
	}
	if c.generation.Load() != gen {
		return res, nil
	}
	if err := c.cache.Set(ctx, key, res); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("translation cache write failed", slog.Any("err", err), slog.String("component", "translator"))
	}
	return res, nil
}

func (c *Client) fetch(ctx context.Context, key Key) (res Result, err error) {
	ctx, span := telemetry.StartSpan(ctx, "translator", "translate", telemetry.TranslationAttrs(key.Source, key.Target, len(key.Text))...)
	defer span.End()

	telemetry.AddInFlight(1)
	start := time.Now()
	defer func() {
		telemetry.AddInFlight(-1)
		telemetry.ObserveRequest(string(Classify(err)), time.Since(start))
		if err != nil && !IsCanceled(err) {
			telemetry.RecordError(span, err)
		} else if err == nil {
			telemetry.SetSpanSuccess(span)
		}
	}()

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     key.Source,
			"tl":     key.Target,
			"dt":     "t",
			"q":      key.Text,
		}).
		Get(c.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, canceled(ctx.Err())
		}
		return Result{}, fmt.Errorf("translation request: %w", err)
	}
	if !resp.IsSuccess() {
		return Result{}, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status()}
	}
	return parseResponse(resp.Body(), key.Source)
}

// parseResponse reads the gtx array shape:
// [[["translated","original",...],...], null, "detected", ...]
func parseResponse(body []byte, sourceHint string) (Result, error) {
	var data []any
	if err := json.Unmarshal(body, &data); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	var b strings.Builder
	if len(data) > 0 {
		if rows, ok := data[0].([]any); ok {
			for _, row := range rows {
				seg, ok := row.([]any)
				if !ok || len(seg) == 0 {
					continue
				}
				if s, ok := seg[0].(string); ok {
					b.WriteString(s)
				}
			}
		}
	}
	detected := sourceHint
	if len(data) > 2 {
		if s, ok := data[2].(string); ok && s != "" {
			detected = s
		}
	}
	return Result{TranslatedText: b.String(), DetectedSourceLanguage: detected}, nil
}

// ClearCache implements Translator. Requests already on the wire still
// return their result but no longer populate the cache.
func (c *Client) ClearCache(ctx context.Context) error {
	c.generation.Add(1)
	if err := c.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear translation cache: %w", err)
	}
	return nil
}

// CacheLen reports the number of cached entries.
func (c *Client) CacheLen(ctx context.Context) (int, error) {
	return c.cache.Len(ctx)
}

// InFlight reports how many requests hold a concurrency slot.
func (c *Client) InFlight() int { return c.limiter.Active() }
