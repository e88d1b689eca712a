// Package jobs holds the catalog of runnable job kinds and the bodies of the
// recurring market sweeps. Bodies only see the task engine's progress
// callback and context; everything market-specific comes in through narrow
// collaborator interfaces so tests can fake the exchange.
package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/etrobot/gpt-trader/internals/marketdata"
	"github.com/etrobot/gpt-trader/internals/taskengine"
)

const (
	KindAnalysis        = "analysis"
	KindNewsEvaluation  = "news_evaluation"
	KindCandlestick     = "candlestick_strategy"
	KindTimeframeReview = "timeframe_review"
	KindGeneric         = "generic"
)

// ErrUnknownKind is returned when a submission names a kind the catalog does
// not carry.
var ErrUnknownKind = errors.New("unknown job kind")

// MarketSource is the slice of the market-data client the sweeps consume.
type MarketSource interface {
	TopSymbolsByTurnover(ctx context.Context, n int) ([]marketdata.Ticker, error)
	Klines(ctx context.Context, symbol string, interval string, limit int) ([]marketdata.Kline, error)
}

// NewsSource supplies exchange announcements for the news sweep.
type NewsSource interface {
	Announcements(ctx context.Context, limit int) ([]marketdata.Announcement, error)
}

// Factory builds a job body bound to the submission's parameters.
type Factory func(topN int) taskengine.Body

// Catalog maps job kinds to their body factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func (c *Catalog) Register(kind string, factory Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[kind] = factory
}

func (c *Catalog) Resolve(kind string) (Factory, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	factory, ok := c.factories[kind]
	if !ok {
		return nil, ErrUnknownKind
	}
	return factory, nil
}

func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]string, 0, len(c.factories))
	for kind := range c.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Builtin returns a catalog carrying all recurring kinds plus the generic
// ad hoc sweep, wired to the given collaborators.
func Builtin(market MarketSource, news NewsSource) *Catalog {
	catalog := NewCatalog()
	catalog.Register(KindAnalysis, func(topN int) taskengine.Body {
		return AnalysisBody(market, topN)
	})
	catalog.Register(KindNewsEvaluation, func(topN int) taskengine.Body {
		return NewsEvaluationBody(market, news, topN)
	})
	catalog.Register(KindCandlestick, func(topN int) taskengine.Body {
		return CandlestickBody(market, topN)
	})
	catalog.Register(KindTimeframeReview, func(topN int) taskengine.Body {
		return TimeframeReviewBody(market, topN)
	})
	catalog.Register(KindGeneric, func(topN int) taskengine.Body {
		return AnalysisBody(market, topN)
	})
	return catalog
}
