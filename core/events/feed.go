package events

import "valuechain/core/types"

const (
	// TypePriceFeedUpdated is emitted when a feed mapping is installed or replaced.
	TypePriceFeedUpdated = "feed.price_feed.updated"
	// TypePriceFeedRemoved is emitted when a feed mapping is cleared.
	TypePriceFeedRemoved = "feed.price_feed.removed"
	// TypeFeedValidationFailed is emitted when one asset fails during a feed
	// refresh; sibling assets continue to be processed.
	TypeFeedValidationFailed = "feed.validation_failed"
	// TypeFeedPaused is emitted when the adapter kill switch engages.
	TypeFeedPaused = "feed.paused"
	// TypeFeedUnpaused is emitted when the adapter resumes operation.
	TypeFeedUnpaused = "feed.unpaused"
)

// PriceFeedUpdated records a feed mapping change.
type PriceFeedUpdated struct {
	Asset [32]byte
	Feed  string
}

func (PriceFeedUpdated) EventType() string { return TypePriceFeedUpdated }

func (e PriceFeedUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePriceFeedUpdated,
		Attributes: map[string]string{
			"asset": assetHex(e.Asset),
			"feed":  trimReason(e.Feed),
		},
	}
}

// PriceFeedRemoved records a cleared feed mapping.
type PriceFeedRemoved struct {
	Asset [32]byte
	Feed  string
}

func (PriceFeedRemoved) EventType() string { return TypePriceFeedRemoved }

func (e PriceFeedRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypePriceFeedRemoved,
		Attributes: map[string]string{
			"asset": assetHex(e.Asset),
			"feed":  trimReason(e.Feed),
		},
	}
}

// FeedValidationFailed records a non-fatal per-asset failure during a refresh.
type FeedValidationFailed struct {
	Asset  [32]byte
	Reason string
}

func (FeedValidationFailed) EventType() string { return TypeFeedValidationFailed }

func (e FeedValidationFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeFeedValidationFailed,
		Attributes: map[string]string{
			"asset":  assetHex(e.Asset),
			"reason": trimReason(e.Reason),
		},
	}
}

// FeedPaused records the adapter entering its paused state.
type FeedPaused struct{}

func (FeedPaused) EventType() string { return TypeFeedPaused }

func (e FeedPaused) Event() *types.Event {
	return &types.Event{Type: TypeFeedPaused, Attributes: map[string]string{}}
}

// FeedUnpaused records the adapter leaving its paused state.
type FeedUnpaused struct{}

func (FeedUnpaused) EventType() string { return TypeFeedUnpaused }

func (e FeedUnpaused) Event() *types.Event {
	return &types.Event{Type: TypeFeedUnpaused, Attributes: map[string]string{}}
}
