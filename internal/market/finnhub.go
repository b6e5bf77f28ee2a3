package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "smartstock/internal/errors"
)

// DefaultFinnhubURL is the Finnhub REST API root.
const DefaultFinnhubURL = "https://finnhub.io/api/v1"

// QuoteSource fetches the current price of one symbol from an upstream API.
type QuoteSource interface {
	Name() string
	Quote(ctx context.Context, symbol string) (float64, error)
}

// FinnhubClient fetches quotes from the Finnhub /quote endpoint.
type FinnhubClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewFinnhubClient creates a client. Each request is bounded by timeout.
func NewFinnhubClient(baseURL, token string, timeout time.Duration) *FinnhubClient {
	if baseURL == "" {
		baseURL = DefaultFinnhubURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &FinnhubClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// finnhubQuote is the subset of the /quote response we use. C is the current price.
type finnhubQuote struct {
	C *float64 `json:"c"`
}

// Name implements QuoteSource.
func (f *FinnhubClient) Name() string {
	return "finnhub"
}

// Quote implements QuoteSource.
func (f *FinnhubClient) Quote(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", f.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return 0, apperrors.NewQuoteError(f.Name(), symbol, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, apperrors.NewQuoteError(f.Name(), symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, apperrors.NewQuoteError(f.Name(), symbol, fmt.Errorf("status %d", resp.StatusCode))
	}

	var quote finnhubQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return 0, apperrors.NewQuoteError(f.Name(), symbol, fmt.Errorf("decoding response: %w", err))
	}

	if quote.C == nil || *quote.C <= 0 {
		return 0, apperrors.NewQuoteError(f.Name(), symbol, apperrors.ErrInvalidQuote)
	}

	return *quote.C, nil
}
