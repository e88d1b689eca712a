package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/etrobot/gpt-trader/internals/marketdata"
	"github.com/etrobot/gpt-trader/internals/taskengine"
)

type fakeMarket struct {
	tickers    []marketdata.Ticker
	klines     map[string][]marketdata.Kline
	klinesErr  error
	klineCalls int
}

func (f *fakeMarket) TopSymbolsByTurnover(ctx context.Context, n int) ([]marketdata.Ticker, error) {
	if n > 0 && len(f.tickers) > n {
		return f.tickers[:n], nil
	}
	return f.tickers, nil
}

func (f *fakeMarket) Klines(ctx context.Context, symbol string, interval string, limit int) ([]marketdata.Kline, error) {
	f.klineCalls++
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	return f.klines[symbol], nil
}

type fakeNews struct {
	items []marketdata.Announcement
}

func (f *fakeNews) Announcements(ctx context.Context, limit int) ([]marketdata.Announcement, error) {
	return f.items, nil
}

func bullishSeries(n int) []marketdata.Kline {
	series := make([]marketdata.Kline, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		series = append(series, marketdata.Kline{Open: price, Close: price + 1})
		price++
	}
	return series
}

func discardProgress(progress float64, message string) {}

func TestAnalysisBodySweepsAllSymbols(t *testing.T) {
	market := &fakeMarket{
		tickers: []marketdata.Ticker{
			{Symbol: "BTCUSDT", LastPrice: 60000, Turnover24h: 900},
			{Symbol: "ETHUSDT", LastPrice: 3000, Turnover24h: 200},
		},
		klines: map[string][]marketdata.Kline{
			"BTCUSDT": bullishSeries(20),
			"ETHUSDT": bullishSeries(20),
		},
	}

	var progress []float64
	body := AnalysisBody(market, 10)
	result, err := body(context.Background(), func(p float64, message string) {
		progress = append(progress, p)
	})
	if err != nil {
		t.Fatalf("body: %v", err)
	}

	payload, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	symbols, ok := payload["symbols"].(map[string]any)
	if !ok || len(symbols) != 2 {
		t.Fatalf("expected 2 symbols, got %+v", payload["symbols"])
	}
	row, ok := symbols["BTCUSDT"].(map[string]any)
	if !ok {
		t.Fatalf("missing BTCUSDT row")
	}
	if row["consecutive_bullish"].(int) != 20 {
		t.Fatalf("unexpected streak: %+v", row)
	}
	if len(progress) == 0 || progress[len(progress)-1] != 1 {
		t.Fatalf("expected final progress 1, got %v", progress)
	}
}

func TestSweepStopsAtCancellationCheckpoint(t *testing.T) {
	market := &fakeMarket{
		tickers: []marketdata.Ticker{
			{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}, {Symbol: "SOLUSDT"},
		},
		klines: map[string][]marketdata.Kline{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	body := AnalysisBody(market, 10)

	_, err := body(ctx, func(p float64, message string) {
		// Cancel mid-sweep, after the first symbol reports.
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if market.klineCalls >= 3 {
		t.Fatalf("expected sweep to stop early, made %d kline calls", market.klineCalls)
	}
}

func TestSweepPropagatesKlineErrors(t *testing.T) {
	market := &fakeMarket{
		tickers:   []marketdata.Ticker{{Symbol: "BTCUSDT"}},
		klinesErr: errors.New("rate limited"),
	}

	body := CandlestickBody(market, 10)
	if _, err := body(context.Background(), discardProgress); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTimeframeReviewBodyReportsAlignment(t *testing.T) {
	market := &fakeMarket{
		tickers: []marketdata.Ticker{{Symbol: "BTCUSDT"}},
		klines: map[string][]marketdata.Kline{
			"BTCUSDT": bullishSeries(15),
		},
	}

	body := TimeframeReviewBody(market, 10)
	result, err := body(context.Background(), discardProgress)
	if err != nil {
		t.Fatalf("body: %v", err)
	}

	symbols := result.(map[string]any)["symbols"].(map[string]any)
	row := symbols["BTCUSDT"].(map[string]any)
	if aligned := row["aligned"].(bool); !aligned {
		t.Fatalf("expected aligned bullish trend, got %+v", row)
	}
	timeframes := row["timeframes"].(map[string]any)
	if len(timeframes) != 3 {
		t.Fatalf("expected 3 timeframes, got %d", len(timeframes))
	}
}

func TestNewsEvaluationBodyMatchesAnnouncements(t *testing.T) {
	market := &fakeMarket{
		tickers: []marketdata.Ticker{
			{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"},
		},
	}
	news := &fakeNews{items: []marketdata.Announcement{
		{Title: "BTC options launch", Type: "derivatives", PublishedAt: time.Now().UTC()},
		{Title: "Maintenance window", Type: "maintenance"},
	}}

	body := NewsEvaluationBody(market, news, 10)
	result, err := body(context.Background(), discardProgress)
	if err != nil {
		t.Fatalf("body: %v", err)
	}

	payload := result.(map[string]any)
	if payload["announcements_scanned"].(int) != 2 {
		t.Fatalf("unexpected scan count: %+v", payload)
	}
	symbols := payload["symbols"].(map[string]any)
	btc := symbols["BTCUSDT"].(map[string]any)
	if btc["news_count"].(int) != 1 {
		t.Fatalf("expected one BTC match, got %+v", btc)
	}
	eth := symbols["ETHUSDT"].(map[string]any)
	if eth["news_count"].(int) != 0 {
		t.Fatalf("expected no ETH matches, got %+v", eth)
	}
}

func TestCatalogResolveAndKinds(t *testing.T) {
	market := &fakeMarket{}
	catalog := Builtin(market, &fakeNews{})

	for _, kind := range []string{KindAnalysis, KindNewsEvaluation, KindCandlestick, KindTimeframeReview, KindGeneric} {
		factory, err := catalog.Resolve(kind)
		if err != nil {
			t.Fatalf("resolve %s: %v", kind, err)
		}
		if factory(5) == nil {
			t.Fatalf("nil body for %s", kind)
		}
	}

	if _, err := catalog.Resolve("nope"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}

	kinds := catalog.Kinds()
	if len(kinds) != 5 {
		t.Fatalf("expected 5 kinds, got %v", kinds)
	}
}

var _ taskengine.Body = AnalysisBody(&fakeMarket{}, 1)
