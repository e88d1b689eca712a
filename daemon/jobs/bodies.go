package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/etrobot/gpt-trader/internals/marketdata"
	"github.com/etrobot/gpt-trader/internals/taskengine"
)

const klineLimit = 50

// sweep fetches the top-turnover symbols and runs evaluate over each one,
// reporting progress per symbol. The ctx.Err() check between symbols is the
// cancellation checkpoint job bodies are contractually required to hit.
func sweep(market MarketSource, topN int, interval string, evaluate func(marketdata.Ticker, []marketdata.Kline) any) taskengine.Body {
	return func(ctx context.Context, report taskengine.Progress) (any, error) {
		report(0, "fetching top symbols")
		tickers, err := market.TopSymbolsByTurnover(ctx, topN)
		if err != nil {
			return nil, err
		}
		if len(tickers) == 0 {
			return map[string]any{"symbols": map[string]any{}}, nil
		}

		results := make(map[string]any, len(tickers))
		for i, ticker := range tickers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			klines, err := market.Klines(ctx, ticker.Symbol, interval, klineLimit)
			if err != nil {
				return nil, fmt.Errorf("evaluating %s: %w", ticker.Symbol, err)
			}
			results[ticker.Symbol] = evaluate(ticker, klines)
			report(float64(i+1)/float64(len(tickers)), fmt.Sprintf("evaluated %s (%d/%d)", ticker.Symbol, i+1, len(tickers)))
		}
		return map[string]any{"symbols": results}, nil
	}
}

// AnalysisBody is the daily factor sweep: momentum, volatility and candle
// streaks over daily klines for the most liquid symbols.
func AnalysisBody(market MarketSource, topN int) taskengine.Body {
	return sweep(market, topN, "D", func(ticker marketdata.Ticker, klines []marketdata.Kline) any {
		return map[string]any{
			"last_price":          ticker.LastPrice,
			"turnover_24h":        ticker.Turnover24h,
			"change_pct":          changePct(klines),
			"volatility_pct":      volatilityPct(klines),
			"consecutive_bullish": consecutiveCandles(klines, isBullish),
			"consecutive_bearish": consecutiveCandles(klines, isBearish),
		}
	})
}

// CandlestickBody scans hourly candles for the two breakout patterns the
// strategy trades on.
func CandlestickBody(market MarketSource, topN int) taskengine.Body {
	return sweep(market, topN, "60", func(ticker marketdata.Ticker, klines []marketdata.Kline) any {
		buy := threeBullishThenSideways(klines)
		sell := sidewaysThenThreeBearish(klines)
		signal := "hold"
		switch {
		case buy:
			signal = "buy"
		case sell:
			signal = "sell"
		}
		return map[string]any{
			"signal":                      signal,
			"three_bullish_then_sideways": buy,
			"sideways_then_three_bearish": sell,
			"last_price":                  ticker.LastPrice,
		}
	})
}

// TimeframeReviewBody compares candle streaks across timeframes to spot
// symbols trending the same way on all of them.
func TimeframeReviewBody(market MarketSource, topN int) taskengine.Body {
	timeframes := []string{"60", "240", "D"}
	return func(ctx context.Context, report taskengine.Progress) (any, error) {
		report(0, "fetching top symbols")
		tickers, err := market.TopSymbolsByTurnover(ctx, topN)
		if err != nil {
			return nil, err
		}

		results := make(map[string]any, len(tickers))
		total := len(tickers) * len(timeframes)
		step := 0
		for _, ticker := range tickers {
			byTimeframe := make(map[string]any, len(timeframes))
			aligned := true
			direction := 0
			for _, timeframe := range timeframes {
				if err := ctx.Err(); err != nil {
					return nil, err
				}

				klines, err := market.Klines(ctx, ticker.Symbol, timeframe, klineLimit)
				if err != nil {
					return nil, fmt.Errorf("reviewing %s %s: %w", ticker.Symbol, timeframe, err)
				}
				bullish := consecutiveCandles(klines, isBullish)
				bearish := consecutiveCandles(klines, isBearish)
				byTimeframe[timeframe] = map[string]any{
					"consecutive_bullish": bullish,
					"consecutive_bearish": bearish,
					"change_pct":          changePct(klines),
				}

				d := 0
				if bullish > 0 {
					d = 1
				} else if bearish > 0 {
					d = -1
				}
				if direction == 0 {
					direction = d
				} else if d != direction {
					aligned = false
				}

				step++
				report(float64(step)/float64(total), fmt.Sprintf("reviewed %s %s", ticker.Symbol, timeframe))
			}
			results[ticker.Symbol] = map[string]any{
				"timeframes": byTimeframe,
				"aligned":    aligned && direction != 0,
			}
		}
		return map[string]any{"symbols": results}, nil
	}
}

// NewsEvaluationBody matches recent exchange announcements against the top
// symbols and scores how newsworthy each symbol currently is.
func NewsEvaluationBody(market MarketSource, news NewsSource, topN int) taskengine.Body {
	const announcementLimit = 50
	return func(ctx context.Context, report taskengine.Progress) (any, error) {
		report(0, "fetching announcements")
		items, err := news.Announcements(ctx, announcementLimit)
		if err != nil {
			return nil, err
		}

		report(0.2, "fetching top symbols")
		tickers, err := market.TopSymbolsByTurnover(ctx, topN)
		if err != nil {
			return nil, err
		}

		results := make(map[string]any, len(tickers))
		for i, ticker := range tickers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			base := strings.TrimSuffix(ticker.Symbol, "USDT")
			var matched []map[string]any
			for _, item := range items {
				if !mentionsCoin(item, base) {
					continue
				}
				matched = append(matched, map[string]any{
					"title":        item.Title,
					"type":         item.Type,
					"url":          item.URL,
					"published_at": item.PublishedAt,
				})
			}
			results[ticker.Symbol] = map[string]any{
				"news_count":    len(matched),
				"announcements": matched,
			}
			report(0.2+0.8*float64(i+1)/float64(len(tickers)), fmt.Sprintf("evaluated news for %s (%d/%d)", ticker.Symbol, i+1, len(tickers)))
		}
		return map[string]any{"symbols": results, "announcements_scanned": len(items)}, nil
	}
}

func mentionsCoin(item marketdata.Announcement, coin string) bool {
	if coin == "" {
		return false
	}
	haystack := strings.ToUpper(item.Title + " " + item.Description)
	return strings.Contains(haystack, strings.ToUpper(coin))
}
