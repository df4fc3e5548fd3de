package ssi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/vietquant/vnpulse/internal/cache"
	"github.com/vietquant/vnpulse/internal/config"
	"github.com/vietquant/vnpulse/internal/models"
	"github.com/vietquant/vnpulse/internal/netutil"
)

const (
	indexComponentsPath = "api/v2/Market/IndexComponents"
	securitiesPath      = "api/v2/Market/Securities"

	componentsCacheTTL = time.Hour
	restTimeout        = 15 * time.Second
)

// RestClient wraps the FastConnect metadata endpoints. Calls are rate-limited
// per host and guarded by a circuit breaker so a flapping broker API cannot
// hammer itself through our retries.
type RestClient struct {
	baseURL string
	auth    *AuthService
	client  *http.Client
	limiter *netutil.HostLimiter
	breaker *gobreaker.CircuitBreaker
	cache   cache.Cache
}

// NewRestClient builds the REST client. store may be nil to disable caching.
func NewRestClient(cfg config.SSIConfig, auth *AuthService, store cache.Cache) *RestClient {
	return &RestClient{
		baseURL: cfg.BaseURL,
		auth:    auth,
		client:  &http.Client{Timeout: restTimeout},
		limiter: netutil.NewHostLimiter(5, 10),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ssi-rest",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			},
		}),
		cache: store,
	}
}

// IndexComponents returns the component symbols of an index (VN30 at
// startup). The list changes at most quarterly, so responses are cached.
func (c *RestClient) IndexComponents(ctx context.Context, indexCode string) ([]string, error) {
	cacheKey := "ssi:components:" + indexCode
	if c.cache != nil {
		if data, ok := c.cache.Get(cacheKey); ok {
			var symbols []string
			if err := json.Unmarshal(data, &symbols); err == nil {
				return symbols, nil
			}
		}
	}

	query := url.Values{
		"indexCode": {indexCode},
		"pageSize":  {"50"},
		"pageIndex": {"1"},
	}
	body, err := c.get(ctx, indexComponentsPath, query)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode index components: %w", err)
	}

	symbols := make([]string, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		if sym := str(item, "StockSymbol", "Symbol"); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	log.Info().Str("index", indexCode).Int("count", len(symbols)).Msg("index components fetched")

	if c.cache != nil && len(symbols) > 0 {
		if data, err := json.Marshal(symbols); err == nil {
			c.cache.Set(cacheKey, data, componentsCacheTTL)
		}
	}
	return symbols, nil
}

// Securities fetches the current per-symbol snapshot for a market, used to
// re-seed cumulative foreign baselines after a reconnect. Missing fields are
// tolerated; each item yields a ForeignEvent.
func (c *RestClient) Securities(ctx context.Context, exchange string) ([]*models.ForeignEvent, error) {
	query := url.Values{
		"market":    {exchange},
		"pageSize":  {"100"},
		"pageIndex": {"1"},
	}
	body, err := c.get(ctx, securitiesPath, query)
	if err != nil {
		return nil, err
	}

	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode securities snapshot: %w", err)
	}

	out := make([]*models.ForeignEvent, 0, len(decoded.Data))
	for _, item := range decoded.Data {
		sym := str(item, "Symbol", "StockSymbol")
		if sym == "" {
			continue
		}
		out = append(out, &models.ForeignEvent{
			Symbol:      sym,
			FBuyVol:     i64(item, "FBuyVol"),
			FSellVol:    i64(item, "FSellVol"),
			FBuyVal:     f64(item, "FBuyVal"),
			FSellVal:    f64(item, "FSellVal"),
			TotalRoom:   i64(item, "TotalRoom"),
			CurrentRoom: i64(item, "CurrentRoom"),
		})
	}
	log.Info().Str("market", exchange).Int("count", len(out)).Msg("securities snapshot fetched")
	return out, nil
}

func (c *RestClient) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path + "?" + query.Encode()
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if err := c.limiter.Wait(ctx, parsed.Host); err != nil {
		return nil, err
	}

	token, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("broker returned %s for %s", resp.Status, path)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, fmt.Errorf("broker request failed: %w", err)
	}
	return result.([]byte), nil
}
