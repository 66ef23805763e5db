package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime settings for bankd.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	LogFile       string `toml:"LogFile"`

	// AdminToken protects the owner surface of the HTTP API. Empty disables
	// the admin routes entirely.
	AdminToken string `toml:"AdminToken"`

	OwnerAddress    string `toml:"OwnerAddress"`
	TreasuryAddress string `toml:"TreasuryAddress"`

	// MinLiquidationThresholdBps is the exclusive lower bound accepted when
	// listing a bank.
	MinLiquidationThresholdBps uint64 `toml:"MinLiquidationThresholdBps"`
	// MaxDeviationCapBps bounds the per-token deviation settings of the
	// price aggregator.
	MaxDeviationCapBps uint64 `toml:"MaxDeviationCapBps"`

	AccrueInterval Duration `toml:"AccrueInterval"`

	// ExecuteRateLimitPerMin caps execute calls per caller address per
	// minute. Zero disables rate limiting.
	ExecuteRateLimitPerMin uint32 `toml:"ExecuteRateLimitPerMin"`

	Oracle OracleConfig `toml:"oracle"`

	Banks  []BankConfig  `toml:"bank"`
	Tokens []TokenConfig `toml:"token"`
	Vaults []VaultConfig `toml:"vault"`
}

// VaultConfig registers a flat-rate vault handle. Real vault integrations
// replace these at wiring time.
type VaultConfig struct {
	Handle        string `toml:"Handle"`
	BorrowRateBps uint64 `toml:"BorrowRateBps"`
}

// OracleConfig drives the price feed poller and the TWAP adapter.
type OracleConfig struct {
	// FeedURL is polled for spot prices; see services/bankd/feeds.go for
	// the expected response shape.
	FeedURL      string   `toml:"FeedURL"`
	PollInterval Duration `toml:"PollInterval"`
	TWAPWindow   Duration `toml:"TWAPWindow"`
	TWAPSamples  int      `toml:"TWAPSamples"`
	MaxDelay     Duration `toml:"MaxDelay"`
}

// TokenConfig declares one whitelisted underlying token and its oracle
// wiring, rebuilt at startup.
type TokenConfig struct {
	Address string `toml:"Address"`
	Symbol  string `toml:"Symbol"`
	// LiquidationThresholdBps is the router default adopted when a bank
	// lists with threshold 0.
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
	MaxDeviationBps         uint64 `toml:"MaxDeviationBps"`
}

// BankConfig lists one debt token at startup.
type BankConfig struct {
	DebtToken               string `toml:"DebtToken"`
	SoftVault               string `toml:"SoftVault"`
	HardVault               string `toml:"HardVault"`
	LiquidationThresholdBps uint64 `toml:"LiquidationThresholdBps"`
}

// Duration is a TOML-friendly wrapper accepting Go duration strings.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Load reads and validates a bankd configuration file. Unknown keys are
// rejected so a typo cannot silently disable a safety setting.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, createDefault(path)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault writes a starter config file. The result is intentionally an
// error: the defaults omit OwnerAddress and TreasuryAddress, which the
// operator has to fill in before the daemon can run.
func createDefault(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(defaultConfig()); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return fmt.Errorf("config: created %s; set OwnerAddress and TreasuryAddress before starting", path)
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:              ":8555",
		DataDir:                    "./bankd-data",
		Environment:                "local",
		MinLiquidationThresholdBps: 5000,
		MaxDeviationCapBps:         1000,
		AccrueInterval:             Duration{Duration: time.Minute},
		Oracle: OracleConfig{
			PollInterval: Duration{Duration: 15 * time.Second},
			TWAPWindow:   Duration{Duration: 30 * time.Minute},
			TWAPSamples:  120,
			MaxDelay:     Duration{Duration: 5 * time.Minute},
		},
	}
}

// Validate ensures the configuration is internally consistent.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(cfg.OwnerAddress) == "" {
		return fmt.Errorf("config: OwnerAddress required")
	}
	if strings.TrimSpace(cfg.TreasuryAddress) == "" {
		return fmt.Errorf("config: TreasuryAddress required")
	}
	if cfg.MinLiquidationThresholdBps >= 10_000 {
		return fmt.Errorf("config: MinLiquidationThresholdBps must be below 10000")
	}
	if cfg.MaxDeviationCapBps == 0 || cfg.MaxDeviationCapBps > 10_000 {
		return fmt.Errorf("config: MaxDeviationCapBps must be in (0, 10000]")
	}
	if cfg.AccrueInterval.Duration <= 0 {
		return fmt.Errorf("config: AccrueInterval must be positive")
	}
	if cfg.Oracle.PollInterval.Duration <= 0 {
		return fmt.Errorf("config: oracle PollInterval must be positive")
	}
	if cfg.Oracle.TWAPWindow.Duration <= 0 {
		return fmt.Errorf("config: oracle TWAPWindow must be positive")
	}
	if cfg.Oracle.MaxDelay.Duration <= 0 {
		return fmt.Errorf("config: oracle MaxDelay must be positive")
	}
	seen := make(map[string]bool, len(cfg.Tokens))
	for i, token := range cfg.Tokens {
		addr := strings.ToLower(strings.TrimSpace(token.Address))
		if addr == "" {
			return fmt.Errorf("config: token %d: Address required", i)
		}
		if seen[addr] {
			return fmt.Errorf("config: token %d: duplicate address %s", i, token.Address)
		}
		seen[addr] = true
		if strings.TrimSpace(token.Symbol) == "" {
			return fmt.Errorf("config: token %d: Symbol required", i)
		}
		if token.LiquidationThresholdBps == 0 || token.LiquidationThresholdBps > 10_000 {
			return fmt.Errorf("config: token %d: LiquidationThresholdBps must be in (0, 10000]", i)
		}
		if token.MaxDeviationBps == 0 || token.MaxDeviationBps > cfg.MaxDeviationCapBps {
			return fmt.Errorf("config: token %d: MaxDeviationBps must be in (0, %d]", i, cfg.MaxDeviationCapBps)
		}
	}
	handles := make(map[string]bool, len(cfg.Vaults))
	for i, v := range cfg.Vaults {
		handle := strings.TrimSpace(v.Handle)
		if handle == "" {
			return fmt.Errorf("config: vault %d: Handle required", i)
		}
		if handles[handle] {
			return fmt.Errorf("config: vault %d: duplicate handle %s", i, handle)
		}
		handles[handle] = true
		if v.BorrowRateBps > 10_000 {
			return fmt.Errorf("config: vault %d: BorrowRateBps must be at most 10000", i)
		}
	}
	for i, b := range cfg.Banks {
		if strings.TrimSpace(b.DebtToken) == "" {
			return fmt.Errorf("config: bank %d: DebtToken required", i)
		}
		if strings.TrimSpace(b.SoftVault) == "" || strings.TrimSpace(b.HardVault) == "" {
			return fmt.Errorf("config: bank %d: SoftVault and HardVault required", i)
		}
	}
	return nil
}
