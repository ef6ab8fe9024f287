package oracle

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrUnknownFeed is returned when no update has ever been published for
	// the requested feed identifier.
	ErrUnknownFeed = errors.New("oracle: unknown price feed")
	// ErrStalePrice is returned when the freshest update for a feed is older
	// than the caller's staleness bound.
	ErrStalePrice = errors.New("oracle: price update is stale")
)

// Source supplies recency-bounded prices for asset feeds. Quote returns the
// latest price for feedID provided it was published no more than maxStaleness
// seconds before now.
type Source interface {
	Quote(feedID string, maxStaleness int64, now int64) (*big.Rat, error)
}

// Update is a single published price observation.
type Update struct {
	Price       *big.Rat
	PublishTime int64
}

// StaticSource is an in-memory price source fed by explicit Publish calls.
// It backs tests and local tooling; production deployments substitute a feed
// client satisfying Source.
type StaticSource struct {
	feeds map[string]Update
}

func NewStaticSource() *StaticSource {
	return &StaticSource{feeds: make(map[string]Update)}
}

// Publish records a price observation for the feed, replacing any prior one.
func (s *StaticSource) Publish(feedID string, price *big.Rat, publishTime int64) {
	if s == nil || price == nil {
		return
	}
	s.feeds[feedID] = Update{Price: new(big.Rat).Set(price), PublishTime: publishTime}
}

// Quote implements Source.
func (s *StaticSource) Quote(feedID string, maxStaleness int64, now int64) (*big.Rat, error) {
	if s == nil {
		return nil, ErrUnknownFeed
	}
	update, ok := s.feeds[feedID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeed, feedID)
	}
	if age := now - update.PublishTime; age > maxStaleness {
		return nil, fmt.Errorf("%w: %s published %ds ago", ErrStalePrice, feedID, age)
	}
	return new(big.Rat).Set(update.Price), nil
}
