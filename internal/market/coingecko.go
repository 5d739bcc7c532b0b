// Package market runs the price-direction guessing game.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

var (
	ErrUnsupportedCrypto = errors.New("unsupported cryptocurrency")
	ErrNoPriceData       = errors.New("no price data")
)

// Quote is a spot USD price.
type Quote struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"current_price"`
	Change24h float64 `json:"market_cap_change_percentage_24h"`
	Timestamp int64   `json:"timestamp"`
}

// PriceFeed returns current prices by coin id.
type PriceFeed interface {
	Price(ctx context.Context, id string) (Quote, error)
	Prices(ctx context.Context) ([]Quote, error)
}

// Supported maps coin ids to display names.
var Supported = map[string]string{
	"bitcoin":   "Bitcoin",
	"ethereum":  "Ethereum",
	"cardano":   "Cardano",
	"solana":    "Solana",
	"ripple":    "XRP",
	"polkadot":  "Polkadot",
	"dogecoin":  "Dogecoin",
	"litecoin":  "Litecoin",
	"chainlink": "Chainlink",
	"uniswap":   "Uniswap",
}

// IsSupported reports whether id is a known coin.
func IsSupported(id string) bool {
	_, ok := Supported[strings.ToLower(id)]
	return ok
}

func symbolFor(id string) string {
	s := strings.ToUpper(id)
	if len(s) > 3 {
		s = s[:3]
	}
	return s
}

// CoinGecko is a PriceFeed backed by the /simple/price endpoint.
type CoinGecko struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

func NewCoinGecko(baseURL string, timeout time.Duration) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinGecko{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type simplePrice struct {
	USD       float64 `json:"usd"`
	Change24h float64 `json:"usd_market_cap_change_percentage_24h"`
}

func (c *CoinGecko) simplePrices(ctx context.Context, ids []string) (map[string]simplePrice, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	q.Set("include_market_cap_change_percentage", "24h")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("price service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out map[string]simplePrice
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode prices: %v", err)
	}
	return out, nil
}

func (c *CoinGecko) Price(ctx context.Context, id string) (Quote, error) {
	id = strings.ToLower(id)
	name, ok := Supported[id]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnsupportedCrypto, id)
	}

	prices, err := c.simplePrices(ctx, []string{id})
	if err != nil {
		return Quote{}, err
	}
	p, ok := prices[id]
	if !ok {
		return Quote{}, fmt.Errorf("%w for %s", ErrNoPriceData, id)
	}

	return Quote{
		ID:        id,
		Symbol:    symbolFor(id),
		Name:      name,
		Price:     p.USD,
		Change24h: p.Change24h,
		Timestamp: c.now().UnixMilli(),
	}, nil
}

// Prices returns every supported coin, highest price first.
func (c *CoinGecko) Prices(ctx context.Context) ([]Quote, error) {
	ids := make([]string, 0, len(Supported))
	for id := range Supported {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	prices, err := c.simplePrices(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := c.now().UnixMilli()
	quotes := make([]Quote, 0, len(prices))
	for id, p := range prices {
		name, ok := Supported[id]
		if !ok {
			continue
		}
		quotes = append(quotes, Quote{
			ID:        id,
			Symbol:    symbolFor(id),
			Name:      name,
			Price:     p.USD,
			Change24h: p.Change24h,
			Timestamp: now,
		})
	}

	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Price > quotes[j].Price })
	return quotes, nil
}
