package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/etrobot/gpt-trader/daemon/core"
	"github.com/etrobot/gpt-trader/daemon/jobs"
	"github.com/etrobot/gpt-trader/internals/marketdata"
	"github.com/etrobot/gpt-trader/internals/metrics"
	"github.com/etrobot/gpt-trader/internals/schedule"
	"github.com/etrobot/gpt-trader/internals/taskengine"
	"github.com/etrobot/gpt-trader/internals/timeouts"
	"github.com/etrobot/gpt-trader/sdk"
)

type Server struct {
	Base       *core.BaseServer
	store      *taskengine.Store
	notifier   *taskengine.Notifier
	runner     *taskengine.Runner
	scheduler  *schedule.Scheduler
	catalog    *jobs.Catalog
	httpServer *http.Server
}

func New() *Server {
	base := core.New()

	store := taskengine.NewStore()
	notifier := taskengine.NewNotifier()
	store.OnChange(notifier.Publish)

	acquireWait := timeouts.SlotAcquire
	if parsed, err := time.ParseDuration(base.Config.Engine.AcquireTimeout); err == nil {
		acquireWait = parsed
	} else {
		base.Logger.Warn("invalid engine.acquire_timeout, using default", "value", base.Config.Engine.AcquireTimeout)
	}

	runner := taskengine.NewRunner(store, taskengine.NewSlot(), base.Logger, acquireWait)
	runner.OnTerminal(func(rec taskengine.Record) {
		metrics.RecordTaskTerminal(rec.Kind, string(rec.Status), rec.CompletedAt.Sub(rec.CreatedAt))
		persistTerminal(base, rec)
	})

	market := marketdata.New(marketOptions(base)...)
	catalog := jobs.Builtin(market, market)

	scheduler := schedule.New(runner, store, base.Logger)
	scheduler.OnSkip(func(kind string) {
		metrics.SchedulerSkips.WithLabelValues(kind).Inc()
	})
	scheduler.Enable(base.Config.Scheduler.Enabled)

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

// marketOptions builds the exchange client configuration. PROXY_URL routes
// all exchange traffic through a forward proxy, matching deployments where
// the exchange is only reachable that way.
func marketOptions(base *core.BaseServer) []marketdata.Option {
	opts := []marketdata.Option{marketdata.WithBaseURL(base.Config.Market.BaseURL)}
	if base.Env.PROXY_URL != "" {
		proxy, err := url.Parse(base.Env.PROXY_URL)
		if err != nil {
			base.Logger.Warn("invalid PROXY_URL, exchange calls go direct", "value", base.Env.PROXY_URL, "error", err)
		} else {
			opts = append(opts, marketdata.WithProxy(proxy))
		}
	}
	return opts
}

func persistTerminal(base *core.BaseServer, rec taskengine.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	err := base.Results.Save(ctx, resultEntryFromRecord(rec))
	if err != nil {
		base.Logger.Error("failed to persist task result", "task_id", rec.ID, "error", err)
	}
}

func (s *Server) registerRecurringJobs() {
	specs := []struct {
		kind string
		spec string
	}{
		{jobs.KindAnalysis, s.Base.Config.Scheduler.AnalysisSpec},
		{jobs.KindNewsEvaluation, s.Base.Config.Scheduler.NewsEvaluationSpec},
		{jobs.KindCandlestick, s.Base.Config.Scheduler.CandlestickSpec},
		{jobs.KindTimeframeReview, s.Base.Config.Scheduler.TimeframeReviewSpec},
	}
	topN := s.Base.Config.Market.TopN
	for _, item := range specs {
		factory, err := s.catalog.Resolve(item.kind)
		if err != nil {
			s.Base.Logger.Error("recurring job kind missing from catalog", "kind", item.kind)
			continue
		}
		if err := s.scheduler.Register(schedule.Job{
			Kind: item.kind,
			Spec: item.spec,
			Body: factory(topN),
		}); err != nil {
			s.Base.Logger.Error("failed to register recurring job", "kind", item.kind, "spec", item.spec, "error", err)
		}
	}
}

func (s *Server) SafeStart() error {
	if sdk.IsRunning(s.Base.Env.BASE_URL) {
		return nil
	}

	go func() {
		s.Base.Logger.Info("starting server")
		if err := s.Start(); err != nil {
			log.Fatal("[gptrader] Failed to start server: " + err.Error())
		}
	}()

	if sdk.WaitForStart(s.Base.Env.BASE_URL, s.Base.Logger) {
		return nil
	}

	return errors.New("couldn't start server")
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Base.Env.LISTEN_ADDR)
	if err != nil {
		return err
	}

	s.scheduler.Start()

	server := &http.Server{
		Handler: s.Router(),
	}
	s.httpServer = server
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown() {
	go func() {
		s.scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if s.httpServer == nil {
			s.Base.Logger.Error("shutdown failed", "error", errors.New("server not initialized"))
			return
		}
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Base.Logger.Error("shutdown failed", "error", err)
		}
		s.Base.Close()
	}()
}
