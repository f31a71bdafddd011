package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"walkfwd/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for walkfwd.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Fyers    Fyers          `yaml:"fyers"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Model    ModelConfig    `yaml:"model"`
	Trading  TradingConfig  `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	GRPCPort int    `yaml:"grpc_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Fyers holds credentials and endpoints for the Fyers API.
type Fyers struct {
	ClientID    string `yaml:"client_id"`
	AccessToken string `yaml:"access_token"`
	BaseURL     string `yaml:"base_url"`
	DataURL     string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig is the recognized strategy and simulation surface.
type BacktestConfig struct {
	Window          int     `yaml:"window"`
	NumStd          float64 `yaml:"num_std"`
	Oversold        float64 `yaml:"oversold"`
	Overbought      float64 `yaml:"overbought"`
	BuyThreshold    float64 `yaml:"buy_threshold"`
	SellThreshold   float64 `yaml:"sell_threshold"`
	InitialCapital  float64 `yaml:"initial_capital"`
	PositionSizePct float64 `yaml:"position_size_pct"`
	LiquidateAtEnd  bool    `yaml:"liquidate_at_end"`
}

// ModelConfig selects and parameterizes the classifier.
type ModelConfig struct {
	// Kind is "logistic", "xgboost" or "walkforward".
	Kind         string  `yaml:"kind"`
	Path         string  `yaml:"path"`
	MaxDepth     int     `yaml:"max_depth"`
	TrainedUntil string  `yaml:"trained_until"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	L2           float64 `yaml:"l2"`
	Horizon      int     `yaml:"horizon"`
	MinHistory   int     `yaml:"min_history"`
	RetrainEvery int     `yaml:"retrain_every"`
}

// TradingConfig defines risk and execution parameters for live trading.
type TradingConfig struct {
	Broker          string  `yaml:"broker"`
	MaxPositionPct  float64 `yaml:"max_position_pct"`
	MaxDailyLossPct float64 `yaml:"max_daily_loss_pct"`
	PaperMode       bool    `yaml:"paper_mode"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data", SQLitePath: "data/walkfwd.db"},
		Server:  Server{Host: "127.0.0.1", GRPCPort: 9090},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			DataURL: "https://data.alpaca.markets",
			Feed:    "iex",
		},
		Fyers: Fyers{
			BaseURL: "https://api-t1.fyers.in/api/v3",
			DataURL: "https://api-t1.fyers.in/data",
		},
		Logging:  Logging{Level: "info", Format: "json"},
		Backtest: DefaultBacktest(),
		Model: ModelConfig{
			Kind:         "walkforward",
			MaxDepth:     6,
			LearningRate: 0.1,
			Epochs:       500,
			L2:           0.01,
			Horizon:      1,
			MinHistory:   20,
			RetrainEvery: 1,
		},
		Trading: TradingConfig{Broker: "simulator", MaxPositionPct: 0.95, PaperMode: true},
	}
}

// DefaultBacktest returns the default strategy and simulation parameters.
func DefaultBacktest() BacktestConfig {
	return BacktestConfig{
		Window:          20,
		NumStd:          2.0,
		Oversold:        0.1,
		Overbought:      0.9,
		BuyThreshold:    0.55,
		SellThreshold:   0.45,
		InitialCapital:  100000,
		PositionSizePct: 0.95,
	}
}

// Validate reports every out-of-range option, wrapped in
// domain.ErrInvalidConfiguration. Values are never clamped.
func (b BacktestConfig) Validate() error {
	var errs []error
	if b.Window <= 1 {
		errs = append(errs, fmt.Errorf("window must be > 1, got %d", b.Window))
	}
	if !(b.NumStd > 0) {
		errs = append(errs, fmt.Errorf("num_std must be > 0, got %v", b.NumStd))
	}
	if !(b.Oversold >= 0 && b.Oversold < 1) {
		errs = append(errs, fmt.Errorf("oversold must be in [0, 1), got %v", b.Oversold))
	}
	if !(b.Overbought > b.Oversold && b.Overbought <= 1) {
		errs = append(errs, fmt.Errorf("overbought must be in (oversold, 1], got %v", b.Overbought))
	}
	if !(b.BuyThreshold > 0 && b.BuyThreshold < 1) {
		errs = append(errs, fmt.Errorf("buy_threshold must be in (0, 1), got %v", b.BuyThreshold))
	}
	if !(b.SellThreshold >= 0 && b.SellThreshold < b.BuyThreshold) {
		errs = append(errs, fmt.Errorf("sell_threshold must be in [0, buy_threshold), got %v", b.SellThreshold))
	}
	if !(b.InitialCapital > 0) {
		errs = append(errs, fmt.Errorf("initial_capital must be > 0, got %v", b.InitialCapital))
	}
	if !(b.PositionSizePct > 0 && b.PositionSizePct <= 1) {
		errs = append(errs, fmt.Errorf("position_size_pct must be in (0, 1], got %v", b.PositionSizePct))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidConfiguration, errors.Join(errs...))
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path over the
// defaults, loads a .env file from the working directory if present, and
// then applies environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars take precedence: canonical names used by the SDK.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("FYERS_CLIENT_ID"); v != "" {
		cfg.Fyers.ClientID = v
	}
	if v := os.Getenv("FYERS_ACCESS_TOKEN"); v != "" {
		cfg.Fyers.AccessToken = v
	}

	floats := []struct {
		env string
		dst *float64
	}{
		{"WALKFWD_NUM_STD", &cfg.Backtest.NumStd},
		{"WALKFWD_OVERSOLD", &cfg.Backtest.Oversold},
		{"WALKFWD_OVERBOUGHT", &cfg.Backtest.Overbought},
		{"WALKFWD_BUY_THRESHOLD", &cfg.Backtest.BuyThreshold},
		{"WALKFWD_SELL_THRESHOLD", &cfg.Backtest.SellThreshold},
		{"WALKFWD_INITIAL_CAPITAL", &cfg.Backtest.InitialCapital},
		{"WALKFWD_POSITION_SIZE_PCT", &cfg.Backtest.PositionSizePct},
	}
	for _, f := range floats {
		v := os.Getenv(f.env)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", domain.ErrInvalidConfiguration, f.env, v, err)
		}
		*f.dst = n
	}
	if v := os.Getenv("WALKFWD_WINDOW"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: WALKFWD_WINDOW=%q: %v", domain.ErrInvalidConfiguration, v, err)
		}
		cfg.Backtest.Window = n
	}
	return nil
}
