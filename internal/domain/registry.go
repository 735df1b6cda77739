package domain

import (
	"fmt"
	"strings"
)

// One tracked asset: the symbol we expose and the upstream feed identifier
type Asset struct {
	Symbol string `yaml:"symbol" json:"symbol"`
	FeedID string `yaml:"feed_id" json:"feed_id"`
}

// Registry is the static mapping between symbols and upstream feed ids.
// Built once at startup; read-only afterwards.
type Registry struct {
	assets   []Asset
	bySymbol map[string]Asset
	byFeedID map[string]Asset
}

// DefaultAssets returns the built-in tracking set.
func DefaultAssets() []Asset {
	return []Asset{
		{Symbol: "SOL", FeedID: "0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d"},
		{Symbol: "BTC", FeedID: "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"},
		{Symbol: "ETH", FeedID: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"},
	}
}

func NewRegistry(assets []Asset) (*Registry, error) {
	if len(assets) == 0 {
		assets = DefaultAssets()
	}

	r := &Registry{
		assets:   make([]Asset, 0, len(assets)),
		bySymbol: make(map[string]Asset, len(assets)),
		byFeedID: make(map[string]Asset, len(assets)),
	}

	for _, a := range assets {
		if a.Symbol == "" || a.FeedID == "" {
			return nil, fmt.Errorf("asset needs both symbol and feed_id, got %+v", a)
		}

		a.FeedID = NormalizeFeedID(a.FeedID)

		if _, dup := r.bySymbol[a.Symbol]; dup {
			return nil, fmt.Errorf("duplicate symbol in asset registry: %s", a.Symbol)
		}
		if _, dup := r.byFeedID[a.FeedID]; dup {
			return nil, fmt.Errorf("duplicate feed id in asset registry: %s", a.FeedID)
		}

		r.assets = append(r.assets, a)
		r.bySymbol[a.Symbol] = a
		r.byFeedID[a.FeedID] = a
	}

	return r, nil
}

// NormalizeFeedID lowercases the hex id and ensures the 0x prefix, so ids
// from config and from the wire compare equal.
func NormalizeFeedID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return id
}

// ByFeedID resolves a normalized feed id; ok=false for feeds outside the
// tracking set.
func (r *Registry) ByFeedID(feedID string) (Asset, bool) {
	a, ok := r.byFeedID[NormalizeFeedID(feedID)]
	return a, ok
}

func (r *Registry) BySymbol(symbol string) (Asset, bool) {
	a, ok := r.bySymbol[symbol]
	return a, ok
}

// Assets returns the tracking set in configuration order.
func (r *Registry) Assets() []Asset {
	out := make([]Asset, len(r.assets))
	copy(out, r.assets)
	return out
}

func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a.Symbol)
	}
	return out
}

// FeedIDs returns the upstream identifiers in configuration order, for
// building subscription query strings.
func (r *Registry) FeedIDs() []string {
	out := make([]string, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a.FeedID)
	}
	return out
}
