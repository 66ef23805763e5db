package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"leverbank/native/oracle"
)

// Sink receives normalized price observations; satisfied by the TWAP adapter.
type Sink interface {
	Observe(token common.Address, price *big.Int, at time.Time)
}

// Poller periodically fetches spot prices from an HTTP feed and pushes them
// into a sink.
type Poller struct {
	url      string
	interval time.Duration
	client   *http.Client
	sink     Sink
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewPoller constructs a poller over the feed URL.
func NewPoller(url string, interval time.Duration, sink Sink, logger *slog.Logger) (*Poller, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("feeds: url required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("feeds: interval must be positive")
	}
	if sink == nil {
		return nil, fmt.Errorf("feeds: sink required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
		sink:     sink,
		logger:   logger,
		nowFn:    time.Now,
	}, nil
}

// SetNowFunc overrides the observation clock.
func (p *Poller) SetNowFunc(now func() time.Time) {
	if now != nil {
		p.nowFn = now
	}
}

type feedResponse struct {
	Prices []feedPrice `json:"prices"`
}

type feedPrice struct {
	Token     string `json:"token"`
	Price     string `json:"price"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Run blocks, polling the feed until the context is cancelled. The first
// fetch happens immediately so the TWAP history warms up without waiting a
// full interval.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("feed poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single fetch and pushes every parseable price.
func (p *Poller) Tick(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("feeds: build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("feeds: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feeds: unexpected status %d", resp.StatusCode)
	}
	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("feeds: decode: %w", err)
	}
	for _, entry := range body.Prices {
		if !common.IsHexAddress(entry.Token) {
			p.logger.Warn("feed entry with bad token", slog.String("token", entry.Token))
			continue
		}
		price, ok := new(big.Int).SetString(strings.TrimSpace(entry.Price), 10)
		if !ok || price.Sign() <= 0 {
			p.logger.Warn("feed entry with bad price",
				slog.String("token", entry.Token),
				slog.String("price", entry.Price))
			continue
		}
		at := p.nowFn()
		if entry.UpdatedAt > 0 {
			at = time.Unix(entry.UpdatedAt, 0)
		}
		p.sink.Observe(common.HexToAddress(entry.Token), price, at)
	}
	return nil
}

var _ Sink = (*oracle.TWAPAdapter)(nil)
