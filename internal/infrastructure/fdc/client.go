package fdc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nutrimap/resolver/internal/domain"
)

const (
	defaultTimeout    = 45 * time.Second
	defaultMaxRetries = 3
	backoffBase       = 2 * time.Second
	maxErrorBody      = 2048
)

// Client talks to the FoodData Central REST API. All requests flow through a
// shared rate limiter so concurrent tier searches cannot exceed the API quota.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	rateLimiter *rate.Limiter
	maxRetries  int
	backoff     time.Duration
	log         zerolog.Logger
}

// NewClient builds a catalog client. minDelay is the minimum spacing between
// requests; the API key is mandatory.
func NewClient(apiKey, baseURL string, minDelay time.Duration, timeout time.Duration, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("fdc: %w: API key is required", domain.ErrCatalogUnavailable)
	}
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      apiKey,
		baseURL:     baseURL,
		rateLimiter: rate.NewLimiter(rate.Every(minDelay), 1),
		maxRetries:  defaultMaxRetries,
		backoff:     backoffBase,
		log:         logger.With().Str("component", "fdc").Logger(),
	}, nil
}

// exponentialBackoff returns the pause before retrying attempt n (1-based).
func exponentialBackoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}

// readLimitedBody reads at most limit bytes of an error response body.
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}

func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "nutrimap-resolver/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}
	return resp, nil
}

// Search queries /foods/search. A comma-separated dataTypeFilter restricts
// the result partitions; empty means all. Retry exhaustion returns an empty
// response rather than an error so one flaky tier cannot sink a whole search.
func (c *Client) Search(ctx context.Context, query string, pageSize int, dataTypeFilter string) (*domain.FDCSearchResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/foods/search", c.baseURL)
	params := url.Values{}
	params.Add("query", query)
	params.Add("api_key", c.apiKey)
	params.Add("pageSize", strconv.Itoa(pageSize))
	if dataTypeFilter != "" {
		params.Add("dataType", dataTypeFilter)
	}
	reqURL := fmt.Sprintf("%s?%s", endpoint, params.Encode())

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doRequest(ctx, reqURL)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Str("query", query).Msg("search request failed")
			if ctx.Err() != nil {
				return nil, err
			}
			c.sleep(ctx, attempt)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			c.log.Warn().Err(readErr).Int("attempt", attempt).Msg("search body read failed")
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			c.log.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Str("query", query).Msg("search returned non-200")
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				// Client errors never heal with retries.
				return &domain.FDCSearchResponse{Foods: []domain.FDCFood{}}, nil
			}
			c.sleep(ctx, attempt)
			continue
		}

		var searchResp domain.FDCSearchResponse
		if err := json.Unmarshal(body, &searchResp); err != nil {
			// A malformed payload counts as an empty page. Returning an error
			// here would cancel the sibling tier searches running alongside
			// this one.
			c.log.Warn().Err(err).Str("query", query).Msg("malformed search payload, treating as empty result")
			return &domain.FDCSearchResponse{Foods: []domain.FDCFood{}}, nil
		}
		if searchResp.Foods == nil {
			searchResp.Foods = []domain.FDCFood{}
		}
		c.log.Debug().Str("query", query).Int("hits", len(searchResp.Foods)).Msg("search complete")
		return &searchResp, nil
	}

	c.log.Warn().Str("query", query).Msg("search retries exhausted, returning empty result")
	return &domain.FDCSearchResponse{Foods: []domain.FDCFood{}}, nil
}

// GetFoodDetail fetches the full record for one FDC ID.
func (c *Client) GetFoodDetail(ctx context.Context, fdcID int) (*domain.FDCFoodDetail, error) {
	endpoint := fmt.Sprintf("%s/v1/food/%d", c.baseURL, fdcID)
	params := url.Values{}
	params.Add("api_key", c.apiKey)
	reqURL := fmt.Sprintf("%s?%s", endpoint, params.Encode())

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doRequest(ctx, reqURL)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: fdc id %d", domain.ErrFoodNotFound, fdcID)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := readLimitedBody(resp.Body, maxErrorBody)
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: status %d: %s", domain.ErrCatalogUnavailable, resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return nil, lastErr
			}
			c.sleep(ctx, attempt)
			continue
		}

		var detail domain.FDCFoodDetail
		err = json.NewDecoder(resp.Body).Decode(&detail)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode detail response: %w", err)
		}
		return &detail, nil
	}

	return nil, lastErr
}

func (c *Client) sleep(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(exponentialBackoff(c.backoff, attempt)):
	}
}
