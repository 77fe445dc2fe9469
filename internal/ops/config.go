package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/broker"
	"main/internal/engine"
	"main/internal/schema"
	"main/internal/strategy"
	"main/internal/universe"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	InitialCash decimal.Decimal    `json:"initialCash"`
	Universe    []InstrumentConfig `json:"universe"`
	Allocations AllocationsConfig  `json:"allocations"`
	Engine      EngineConfig       `json:"engine"`
	Strategy    StrategyConfig     `json:"strategy"`
	Macro       MacroConfig        `json:"macro"`
	Feed        FeedConfig         `json:"feed"`
	Audit       AuditConfig        `json:"audit"`
}

// InstrumentConfig describes one universe entry.
type InstrumentConfig struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Price     decimal.Decimal       `json:"price"`
	Sector    schema.Sector         `json:"sector"`
	Kind      schema.InstrumentKind `json:"kind"`
	RiskGrade int                   `json:"riskGrade"`
	PER       decimal.Decimal       `json:"per"`
	PBR       decimal.Decimal       `json:"pbr"`
}

// AllocationsConfig holds the three strategy weights.
type AllocationsConfig struct {
	Macro    float64 `json:"macro"`
	Quality  float64 `json:"quality"`
	Breakout float64 `json:"breakout"`
}

// EngineConfig holds scheduling parameters. Durations are nanoseconds.
type EngineConfig struct {
	PriceTick     time.Duration `json:"priceTick"`
	ExecutionTick time.Duration `json:"executionTick"`
	RateLimit     int           `json:"rateLimit"`
	SettleLatency time.Duration `json:"settleLatency"`
	LiveTrading   bool          `json:"liveTrading"`
}

// StrategyConfig holds evaluator parameters.
type StrategyConfig struct {
	RebalanceThreshold decimal.Decimal `json:"rebalanceThreshold"`
	VolatilityCeiling  float64         `json:"volatilityCeiling"`
}

// MacroConfig seeds the macro signal.
type MacroConfig struct {
	Volatility float64 `json:"volatility"`
	Rate       float64 `json:"rate"`
}

// FeedConfig selects the tick source.
type FeedConfig struct {
	Live bool   `json:"live"`
	URL  string `json:"url"`
}

// AuditConfig controls the audit ring and optional sinks.
type AuditConfig struct {
	RingSize       int    `json:"ringSize"`
	KafkaEnabled   bool   `json:"kafkaEnabled"`
	KafkaTopic     string `json:"kafkaTopic"`
	ArchiveEnabled bool   `json:"archiveEnabled"`
}

// EnvConfig carries secrets and endpoints from the environment.
type EnvConfig struct {
	BrokerBaseURL   string        `env:"BROKER_BASE_URL"`
	BrokerAppKey    string        `env:"BROKER_APP_KEY"`
	BrokerAppSecret string        `env:"BROKER_APP_SECRET"`
	BrokerAccount   string        `env:"BROKER_ACCOUNT"`
	BrokerTimeout   time.Duration `env:"BROKER_TIMEOUT" envDefault:"5s"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS" envSeparator:","`
	PostgresDSN     string        `env:"POSTGRES_DSN"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	InitialCash decimal.Decimal
	Instruments []schema.Instrument
	Allocations schema.AllocationConfig
	Engine      engine.Config
	Strategy    strategy.Config
	Macro       schema.MacroSignal
	Feed        FeedConfig
	Audit       AuditConfig
	Broker      broker.Config
	// BrokerReady reports whether live-forwarding credentials are present.
	BrokerReady  bool
	KafkaBrokers []string
	PostgresDSN  string
}

// Load reads the JSON config file, applies environment overrides, and
// validates the result. An empty path yields the built-in defaults.
func Load(path string) (Loaded, error) {
	cfg := defaultFileConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, err
		}
	}

	var envCfg EnvConfig
	if err := env.Parse(&envCfg); err != nil {
		return Loaded{}, err
	}

	return resolve(cfg, envCfg)
}

func defaultFileConfig() FileConfig {
	eng := engine.DefaultConfig()
	return FileConfig{
		InitialCash: decimal.NewFromInt(100_000_000),
		Allocations: AllocationsConfig{Macro: 40, Quality: 30, Breakout: 30},
		Engine: EngineConfig{
			PriceTick:     eng.PriceTick,
			ExecutionTick: eng.ExecutionTick,
			RateLimit:     eng.RateLimit,
			SettleLatency: eng.SettleLatency,
		},
		Macro: MacroConfig{Volatility: 15.2, Rate: 3.5},
	}
}

func resolve(cfg FileConfig, envCfg EnvConfig) (Loaded, error) {
	if cfg.InitialCash.IsNegative() {
		return Loaded{}, fmt.Errorf("initial cash must be >= 0")
	}
	if cfg.Allocations.Macro < 0 || cfg.Allocations.Quality < 0 || cfg.Allocations.Breakout < 0 {
		return Loaded{}, fmt.Errorf("allocation weights must be >= 0")
	}
	if cfg.Engine.RateLimit < 0 {
		return Loaded{}, fmt.Errorf("rate limit must be >= 0")
	}
	if cfg.Feed.Live && cfg.Feed.URL == "" {
		return Loaded{}, fmt.Errorf("live feed requires a url")
	}
	if cfg.Audit.KafkaEnabled && (len(envCfg.KafkaBrokers) == 0 || cfg.Audit.KafkaTopic == "") {
		return Loaded{}, fmt.Errorf("kafka sink requires KAFKA_BROKERS and a topic")
	}
	if cfg.Audit.ArchiveEnabled && envCfg.PostgresDSN == "" {
		return Loaded{}, fmt.Errorf("audit archive requires POSTGRES_DSN")
	}

	instruments, err := resolveInstruments(cfg.Universe)
	if err != nil {
		return Loaded{}, err
	}

	brokerCfg := broker.Config{
		BaseURL:   envCfg.BrokerBaseURL,
		AppKey:    envCfg.BrokerAppKey,
		AppSecret: envCfg.BrokerAppSecret,
		Account:   envCfg.BrokerAccount,
		Timeout:   envCfg.BrokerTimeout,
	}
	brokerReady := brokerCfg.BaseURL != "" && brokerCfg.AppKey != "" && brokerCfg.AppSecret != ""
	if cfg.Engine.LiveTrading && !brokerReady {
		return Loaded{}, fmt.Errorf("live trading requires broker credentials in the environment")
	}

	return Loaded{
		InitialCash: cfg.InitialCash,
		Instruments: instruments,
		Allocations: schema.AllocationConfig{
			Macro:    cfg.Allocations.Macro,
			Quality:  cfg.Allocations.Quality,
			Breakout: cfg.Allocations.Breakout,
		},
		Engine: engine.Config{
			PriceTick:     cfg.Engine.PriceTick,
			ExecutionTick: cfg.Engine.ExecutionTick,
			RateLimit:     cfg.Engine.RateLimit,
			SettleLatency: cfg.Engine.SettleLatency,
			LiveTrading:   cfg.Engine.LiveTrading,
		},
		Strategy: strategy.Config{
			RebalanceThreshold: cfg.Strategy.RebalanceThreshold,
			VolatilityCeiling:  cfg.Strategy.VolatilityCeiling,
		},
		Macro: schema.MacroSignal{
			Volatility: cfg.Macro.Volatility,
			Rate:       cfg.Macro.Rate,
		},
		Feed:         cfg.Feed,
		Audit:        cfg.Audit,
		Broker:       brokerCfg,
		BrokerReady:  brokerReady,
		KafkaBrokers: envCfg.KafkaBrokers,
		PostgresDSN:  envCfg.PostgresDSN,
	}, nil
}

func resolveInstruments(entries []InstrumentConfig) ([]schema.Instrument, error) {
	if len(entries) == 0 {
		return universe.DefaultInstruments(), nil
	}
	seen := make(map[string]struct{}, len(entries))
	out := make([]schema.Instrument, 0, len(entries))
	for _, entry := range entries {
		if entry.ID == "" {
			return nil, fmt.Errorf("instrument id is empty")
		}
		if _, ok := seen[entry.ID]; ok {
			return nil, fmt.Errorf("duplicate instrument: %s", entry.ID)
		}
		seen[entry.ID] = struct{}{}
		if !entry.Price.IsPositive() {
			return nil, fmt.Errorf("price must be > 0 for %s", entry.ID)
		}
		if entry.RiskGrade < 1 || entry.RiskGrade > 5 {
			return nil, fmt.Errorf("risk grade must be 1-5 for %s", entry.ID)
		}
		if entry.PER.IsNegative() || entry.PBR.IsNegative() {
			return nil, fmt.Errorf("per/pbr must be >= 0 for %s", entry.ID)
		}
		if entry.Sector == schema.SectorUnknown {
			return nil, fmt.Errorf("sector is required for %s", entry.ID)
		}
		if entry.Kind == schema.KindUnknown {
			return nil, fmt.Errorf("kind is required for %s", entry.ID)
		}
		out = append(out, schema.Instrument{
			ID:        entry.ID,
			Name:      entry.Name,
			Price:     entry.Price,
			Sector:    entry.Sector,
			Kind:      entry.Kind,
			RiskGrade: entry.RiskGrade,
			PER:       entry.PER,
			PBR:       entry.PBR,
		})
	}
	return out, nil
}
