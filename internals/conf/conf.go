package conf

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	z "github.com/Oudwins/zog"
)

type Config struct {
	Version   string          `json:"-"`
	Server    ServerConfig    `json:"server"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Market    MarketConfig    `json:"market"`
}

type ServerConfig struct {
	DataDir string `json:"data_dir"`
}

type EngineConfig struct {
	AcquireTimeout string `json:"acquire_timeout"`
}

type SchedulerConfig struct {
	Enabled             bool   `json:"enabled"`
	AnalysisSpec        string `json:"analysis_spec"`
	NewsEvaluationSpec  string `json:"news_evaluation_spec"`
	CandlestickSpec     string `json:"candlestick_spec"`
	TimeframeReviewSpec string `json:"timeframe_review_spec"`
}

type MarketConfig struct {
	BaseURL string `json:"base_url"`
	TopN    int    `json:"top_n"`
}

var serverSchema = z.Struct(z.Shape{
	"DataDir": z.String().Default("~/.gptrader").Transform(expandPathTransform),
})

var engineSchema = z.Struct(z.Shape{
	"AcquireTimeout": z.String().Default("3s"),
})

var schedulerSchema = z.Struct(z.Shape{
	"Enabled":             z.Bool().Default(true),
	"AnalysisSpec":        z.String().Default("0 0 * * *"),
	"NewsEvaluationSpec":  z.String().Default("30 0 * * *"),
	"CandlestickSpec":     z.String().Default("*/10 * * * *"),
	"TimeframeReviewSpec": z.String().Default("0 1 * * *"),
})

var marketSchema = z.Struct(z.Shape{
	"BaseURL": z.String().Default("https://api.bybit.com"),
	"TopN":    z.Int().Default(20).GTE(1).LTE(50),
})

var ConfigSchema = z.Struct(z.Shape{
	"server":    serverSchema,
	"engine":    engineSchema,
	"scheduler": schedulerSchema,
	"market":    marketSchema,
})

var config *Config

func GetConfig() *Config {
	if config == nil {
		defaults := &Config{}
		if err := ConfigSchema.Parse(map[string]any{}, defaults); err != nil {
			log.Fatal("[gptrader] Failed to parse config", err)
		}
		defaults.Version = "0.1.0"

		dataDir, err := expandPath(defaults.Server.DataDir)
		if err != nil {
			log.Fatal("[gptrader] Failed to expand config data dir", err)
		}

		configPath := filepath.Join(filepath.Clean(dataDir), "gptrader.json")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				config = defaults
				return config
			}
			log.Fatal("[gptrader] Failed to read config file", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			config = defaults
			return config
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Fatal("[gptrader] Failed to parse config file", err)
		}
		parsed := &Config{}
		if err := ConfigSchema.Parse(payload, parsed); err != nil {
			log.Fatal("[gptrader] Failed to parse config", err)
		}
		parsed.Version = defaults.Version
		config = parsed
	}

	return config
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
