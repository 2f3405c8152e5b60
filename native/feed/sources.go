package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChainlinkFeed reads the latest round from an aggregator proxy exposed over
// HTTP. The payload mirrors the latestRoundData tuple: round identifier,
// answer, and the time the answer was last updated.
type ChainlinkFeed struct {
	client   HTTPDoer
	endpoint string
	name     string
}

// NewChainlinkFeed constructs a feed reading from the supplied endpoint. When
// the client is nil http.DefaultClient is used. The name identifies the feed
// on emitted events and defaults to the endpoint when empty.
func NewChainlinkFeed(client HTTPDoer, endpoint, name string) *ChainlinkFeed {
	ep := strings.TrimSpace(endpoint)
	if client == nil {
		client = http.DefaultClient
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = ep
	}
	return &ChainlinkFeed{client: client, endpoint: ep, name: trimmed}
}

// Name returns the feed identifier used on events.
func (f *ChainlinkFeed) Name() string {
	if f == nil {
		return ""
	}
	return f.name
}

// LatestRound fetches and decodes the most recent round.
func (f *ChainlinkFeed) LatestRound(ctx context.Context) (RoundData, error) {
	if f == nil || f.endpoint == "" {
		return RoundData{}, fmt.Errorf("chainlink feed not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return RoundData{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return RoundData{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RoundData{}, fmt.Errorf("chainlink feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		RoundID   uint64 `json:"roundId"`
		Answer    string `json:"answer"`
		UpdatedAt int64  `json:"updatedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return RoundData{}, fmt.Errorf("chainlink feed: decode: %w", err)
	}
	answer := strings.TrimSpace(payload.Answer)
	if answer == "" {
		return RoundData{}, fmt.Errorf("chainlink feed: empty answer")
	}
	price, ok := new(big.Int).SetString(answer, 10)
	if !ok {
		return RoundData{}, fmt.Errorf("chainlink feed: invalid answer %q", payload.Answer)
	}
	var updated time.Time
	if payload.UpdatedAt > 0 {
		updated = time.Unix(payload.UpdatedAt, 0)
	}
	return RoundData{RoundID: payload.RoundID, Price: price, UpdatedAt: updated}, nil
}

// ManualFeed provides an in-memory feed implementation used for tests and
// manual overrides during incident response.
type ManualFeed struct {
	mu    sync.RWMutex
	name  string
	round RoundData
	set   bool
}

// NewManualFeed constructs an empty manual feed under the given name.
func NewManualFeed(name string) *ManualFeed {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		trimmed = "manual"
	}
	return &ManualFeed{name: trimmed}
}

// Name returns the feed identifier used on events.
func (f *ManualFeed) Name() string {
	if f == nil {
		return ""
	}
	return f.name
}

// Set records the round returned by subsequent LatestRound calls. The price
// is copied defensively.
func (f *ManualFeed) Set(roundID uint64, price *big.Int, updatedAt time.Time) {
	if f == nil {
		return
	}
	round := RoundData{RoundID: roundID, UpdatedAt: updatedAt}
	if price != nil {
		round.Price = new(big.Int).Set(price)
	}
	f.mu.Lock()
	f.round = round
	f.set = true
	f.mu.Unlock()
}

// LatestRound returns the stored round.
func (f *ManualFeed) LatestRound(context.Context) (RoundData, error) {
	if f == nil {
		return RoundData{}, fmt.Errorf("manual feed not configured")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.set {
		return RoundData{}, fmt.Errorf("manual feed %s: no round recorded", f.name)
	}
	round := f.round
	if round.Price != nil {
		round.Price = new(big.Int).Set(round.Price)
	}
	return round, nil
}
