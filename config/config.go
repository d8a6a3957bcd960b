package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration.
type Config struct {
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Gate      GateConfig      `yaml:"gate"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// AnalyzerConfig holds the microstructure heuristic thresholds.
type AnalyzerConfig struct {
	TopNLevels          int     `yaml:"top_n_levels"`
	WideSpreadThreshold float64 `yaml:"wide_spread_threshold"`
	DivergenceThreshold float64 `yaml:"divergence_threshold"`
	DepthReference      float64 `yaml:"depth_reference"`
	DepthTargetSize     float64 `yaml:"depth_target_size"`
	TradeReferenceSize  float64 `yaml:"trade_reference_size"`
	TinyTradeThreshold  float64 `yaml:"tiny_trade_threshold"`
	StaleTradeSeconds   int     `yaml:"stale_trade_seconds"`
	ChurnRatioThreshold float64 `yaml:"churn_ratio_threshold"`
}

// GateConfig controls risk gating and order sizing.
type GateConfig struct {
	DefaultOrderSizeUSD       float64 `yaml:"default_order_size_usd"`
	SizingMode                string  `yaml:"sizing_mode"` // fixed | confidence_scaled
	MinConfidence             float64 `yaml:"min_confidence"`
	ManipulationRiskThreshold float64 `yaml:"manipulation_risk_threshold"`
}

// SimulatorConfig controls paper fills.
type SimulatorConfig struct {
	FillModel       string  `yaml:"fill_model"` // book | ratio
	FillRatio       float64 `yaml:"fill_ratio"`
	FeeBps          float64 `yaml:"fee_bps"`
	SlippageBps     float64 `yaml:"slippage_bps"`
	ExecuteProposed bool    `yaml:"execute_proposed"`
}

// PipelineConfig controls the batch pass itself.
type PipelineConfig struct {
	Workers              int    `yaml:"workers"`
	OrderType            string `yaml:"order_type"` // market | limit
	AllowCautionOverride bool   `yaml:"allow_caution_override"`
	OutputDir            string `yaml:"output_dir"`
}

// StorageConfig controls where runs are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config plus a .env file if present. Environment
// variables override file values for the keys they cover. path may be
// empty, leaving everything at defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// StaleTradeThreshold returns the analyzer staleness cutoff as a duration.
func (c *Config) StaleTradeThreshold() time.Duration {
	return time.Duration(c.Analyzer.StaleTradeSeconds) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DEFAULT_ORDER_SIZE_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Gate.DefaultOrderSizeUSD = f
		}
	}
	if v := os.Getenv("SIZING_MODE"); v != "" {
		cfg.Gate.SizingMode = v
	}
	if v := os.Getenv("EXECUTE_PROPOSED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Simulator.ExecuteProposed = b
		}
	}
}

func setDefaults(cfg *Config) {
	if cfg.Analyzer.TopNLevels <= 0 {
		cfg.Analyzer.TopNLevels = 3
	}
	if cfg.Analyzer.WideSpreadThreshold <= 0 {
		cfg.Analyzer.WideSpreadThreshold = 0.10
	}
	if cfg.Analyzer.DivergenceThreshold <= 0 {
		cfg.Analyzer.DivergenceThreshold = 0.08
	}
	if cfg.Analyzer.DepthReference <= 0 {
		cfg.Analyzer.DepthReference = 5000
	}
	if cfg.Analyzer.DepthTargetSize <= 0 {
		cfg.Analyzer.DepthTargetSize = 1000
	}
	if cfg.Analyzer.TradeReferenceSize <= 0 {
		cfg.Analyzer.TradeReferenceSize = 1200
	}
	if cfg.Analyzer.TinyTradeThreshold <= 0 {
		cfg.Analyzer.TinyTradeThreshold = 75
	}
	if cfg.Analyzer.StaleTradeSeconds <= 0 {
		cfg.Analyzer.StaleTradeSeconds = 180
	}
	if cfg.Analyzer.ChurnRatioThreshold <= 0 {
		cfg.Analyzer.ChurnRatioThreshold = 25
	}
	if cfg.Gate.DefaultOrderSizeUSD <= 0 {
		cfg.Gate.DefaultOrderSizeUSD = 500
	}
	if cfg.Gate.SizingMode == "" {
		cfg.Gate.SizingMode = "fixed"
	}
	if cfg.Gate.MinConfidence <= 0 {
		cfg.Gate.MinConfidence = 0.35
	}
	if cfg.Gate.ManipulationRiskThreshold <= 0 {
		cfg.Gate.ManipulationRiskThreshold = 0.70
	}
	if cfg.Simulator.FillModel == "" {
		cfg.Simulator.FillModel = "book"
	}
	if cfg.Simulator.FillRatio <= 0 || cfg.Simulator.FillRatio > 1 {
		cfg.Simulator.FillRatio = 1.0
	}
	// Negative bps mean "explicitly disabled" and pass through.
	if cfg.Simulator.FeeBps == 0 {
		cfg.Simulator.FeeBps = 10
	}
	if cfg.Simulator.SlippageBps == 0 {
		cfg.Simulator.SlippageBps = 5
	}
	if cfg.Pipeline.OrderType == "" {
		cfg.Pipeline.OrderType = "limit"
	}
	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = "out"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "polypipe.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
