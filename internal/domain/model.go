package domain

// Normalized price update produced by the feed ingestor
type PriceUpdate struct {
	Symbol      string  `json:"symbol"`       // asset symbol, e.g. "SOL"
	Price       float64 `json:"price"`        // price in USD
	Confidence  float64 `json:"confidence"`   // +/- interval around the price
	PublishTime int64   `json:"publish_time"` // unix seconds from the upstream
	FeedID      string  `json:"feed_id"`      // canonical 0x-prefixed lower hex
}

// One accepted price sample; owned by the TWAP engine
type TwapSample struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix seconds
}

// Finalized TWAP computation for an explicit window end
type TwapResult struct {
	Symbol      string  `json:"symbol"`
	TwapPrice   float64 `json:"twap_price"`
	WindowStart int64   `json:"window_start"`
	WindowEnd   int64   `json:"window_end"`
	SampleCount int     `json:"sample_count"`
	Coverage    float64 `json:"coverage"` // observed/expected, may exceed 1.0
}

// Rolling non-authoritative estimate as of "now"; tolerates zero samples
type TwapPreview struct {
	Symbol             string  `json:"symbol"`
	TwapPrice          float64 `json:"twap_price"`
	SampleCount        int     `json:"sample_count"`
	Coverage           float64 `json:"coverage"` // clipped to <= 1.0
	InSettlementWindow bool    `json:"in_settlement_window"`
}

// Settlement timing derived from wall clock and round configuration
type SettlementInfo struct {
	NextSettlement      int64 `json:"next_settlement"`
	TwapWindowStart     int64 `json:"twap_window_start"`
	SecondsToTwapWindow int64 `json:"seconds_to_twap_window"`
	SecondsToSettlement int64 `json:"seconds_to_settlement"`
	InTwapWindow        bool  `json:"in_twap_window"`
}
