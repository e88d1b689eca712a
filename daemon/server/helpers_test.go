package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/etrobot/gpt-trader/daemon/core"
	"github.com/etrobot/gpt-trader/daemon/jobs"
	"github.com/etrobot/gpt-trader/internals/conf"
	"github.com/etrobot/gpt-trader/internals/env"
	"github.com/etrobot/gpt-trader/internals/marketdata"
	"github.com/etrobot/gpt-trader/internals/resultstore"
	"github.com/etrobot/gpt-trader/internals/schedule"
	"github.com/etrobot/gpt-trader/internals/taskengine"
	"github.com/etrobot/gpt-trader/internals/testutil"
)

// fakeMarket satisfies jobs.MarketSource and jobs.NewsSource without hitting
// the network. The release channel, when set, blocks every kline fetch so
// tests can hold a job in Running.
type fakeMarket struct {
	release chan struct{}
}

func (f *fakeMarket) TopSymbolsByTurnover(ctx context.Context, n int) ([]marketdata.Ticker, error) {
	return []marketdata.Ticker{{Symbol: "BTCUSDT", LastPrice: 60000, Turnover24h: 900}}, nil
}

func (f *fakeMarket) Klines(ctx context.Context, symbol string, interval string, limit int) ([]marketdata.Kline, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []marketdata.Kline{
		{OpenTime: time.Now().UTC().Add(-time.Hour), Open: 100, Close: 110},
		{OpenTime: time.Now().UTC(), Open: 110, Close: 120},
	}, nil
}

func (f *fakeMarket) Announcements(ctx context.Context, limit int) ([]marketdata.Announcement, error) {
	return []marketdata.Announcement{{Title: "BTC listing update", Type: "spot"}}, nil
}

func newTestServer(t *testing.T, market *fakeMarket) *Server {
	t.Helper()

	config := conf.GetConfig()
	origDataDir := config.Server.DataDir
	origVersion := config.Version
	config.Server.DataDir = t.TempDir()
	config.Version = "test-version"

	dataEnv := env.Get()
	origBase := dataEnv.BASE_URL
	origListen := dataEnv.LISTEN_ADDR
	dataEnv.BASE_URL = "http://localhost"
	dataEnv.LISTEN_ADDR = "localhost:0"

	t.Cleanup(func() {
		config.Server.DataDir = origDataDir
		config.Version = origVersion
		dataEnv.BASE_URL = origBase
		dataEnv.LISTEN_ADDR = origListen
	})

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	results, err := resultstore.Open(testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("open result store: %v", err)
	}
	t.Cleanup(func() { results.Close() })

	base := &core.BaseServer{
		Config:  config,
		Env:     dataEnv,
		Logger:  logger,
		Results: results,
	}

	store := taskengine.NewStore()
	notifier := taskengine.NewNotifier()
	store.OnChange(notifier.Publish)

	runner := taskengine.NewRunner(store, taskengine.NewSlot(), logger, 0)
	runner.OnTerminal(func(rec taskengine.Record) {
		persistTerminal(base, rec)
	})

	catalog := jobs.Builtin(market, market)
	scheduler := schedule.New(runner, store, logger)

	srv := &Server{
		Base:      base,
		store:     store,
		notifier:  notifier,
		runner:    runner,
		scheduler: scheduler,
		catalog:   catalog,
	}
	srv.registerRecurringJobs()
	return srv
}

func waitForStatus(store *taskengine.Store, taskID string, status taskengine.Status) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.Get(taskID)
		if err == nil && rec.Status == status {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
