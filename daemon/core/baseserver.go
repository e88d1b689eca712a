package core

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/etrobot/gpt-trader/internals/assert"
	"github.com/etrobot/gpt-trader/internals/conf"
	"github.com/etrobot/gpt-trader/internals/env"
	"github.com/etrobot/gpt-trader/internals/resultstore"
)

// BaseServer bundles the process-wide singletons the daemon hands to its
// HTTP layer and jobs.
type BaseServer struct {
	Config  *conf.Config
	Env     *env.EnvStruct
	Logger  *slog.Logger
	Results *resultstore.Store

	logFile *os.File
}

func New() *BaseServer {
	env := env.Get()
	config := conf.GetConfig()
	dataDir := config.Server.DataDir
	if dataDir != "" {
		dataDir = filepath.Clean(dataDir)
		config.Server.DataDir = dataDir
	}

	logger, logFile := InitLogger(config)

	results, err := resultstore.Open(filepath.Join(dataDir, "results.db"))
	assert.AssertNil(err, "[CORE] Failed to open result store")

	return &BaseServer{
		Config:  config,
		Env:     env,
		Logger:  logger,
		Results: results,
		logFile: logFile,
	}
}

// Close releases the result store and log file.
func (b *BaseServer) Close() {
	if b.Results != nil {
		b.Results.Close()
	}
	if b.logFile != nil {
		b.logFile.Close()
	}
}
