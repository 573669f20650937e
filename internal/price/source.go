package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/blackjack-market/internal/version"
)

// Source fetches USD prices for a set of symbols. Symbols missing from the
// result are unknown.
type Source interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// HTTPError is a non-2xx response from the price endpoint.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("price api error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if the error should trigger a retry.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPSource reads prices from a JSON endpoint:
//
//	GET <url>?symbols=ETH,CHIP  ->  {"prices": {"ETH": "3012.55", "CHIP": 0.0042}}
type HTTPSource struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		s.httpClient = hc
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) HTTPOption {
	return func(s *HTTPSource) {
		s.maxRetries = max
		s.retryBackoff = backoff
	}
}

// WithSourceLogger sets the logger.
func WithSourceLogger(logger *slog.Logger) HTTPOption {
	return func(s *HTTPSource) {
		s.logger = logger
	}
}

// NewHTTPSource creates a source reading from rawURL.
func NewHTTPSource(rawURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		url:          rawURL,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type pricesResponse struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// Prices fetches the USD price of each symbol.
func (s *HTTPSource) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("symbols", strings.Join(symbols, ","))

	body, err := s.doWithRetry(ctx, query)
	if err != nil {
		return nil, err
	}

	var resp pricesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal prices: %w", err)
	}

	out := make(map[string]decimal.Decimal, len(resp.Prices))
	for sym, p := range resp.Prices {
		out[strings.ToUpper(sym)] = p
	}
	return out, nil
}

func (s *HTTPSource) doRequest(ctx context.Context, query url.Values) ([]byte, error) {
	fullURL := s.url
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

// doWithRetry performs the request with exponential backoff retry.
func (s *HTTPSource) doWithRetry(ctx context.Context, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := s.retryBackoff

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			s.logger.Debug("retrying price request", "attempt", attempt, "backoff", jitter)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}
			backoff *= 2
		}

		body, err := s.doRequest(ctx, query)
		if err == nil {
			return body, nil
		}
		lastErr = err

		httpErr, ok := err.(*HTTPError)
		if !ok || !httpErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
