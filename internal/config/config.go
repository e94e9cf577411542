package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	yaml "go.yaml.in/yaml/v3"
)

var (
	ErrInvalidRecipient = errors.New("invalid default recipient address")
	ErrInvalidContract  = errors.New("invalid contract address")
)

const (
	DefaultRPC             = "https://andromeda.metis.io"
	DefaultMaxRetries      = 3
	DefaultGasMultiplier   = 1.2
	DefaultSuccessCooldown = 10 * time.Second
	DefaultErrorCooldown   = 30 * time.Second
	DefaultReceiptTimeout  = 2 * time.Minute
	DefaultReceiptPoll     = 3 * time.Second
	DefaultRPCTimeout      = 10 * time.Second
	DefaultCooldownWindow  = 24 * time.Hour
	DefaultSafetyMargin    = time.Minute
	DefaultRescanInterval  = 60 * time.Second
	DefaultFailureDelay    = 60 * time.Second
	DefaultGasRefresh      = 5 * time.Minute
	DefaultHealthMaxFail   = time.Hour
)

// File is the on-disk YAML layout. Durations are strings ("30s", "24h").
type File struct {
	RPC struct {
		URL       string  `yaml:"url"`
		RateLimit float64 `yaml:"rate_limit"`
		Burst     int     `yaml:"burst"`
		Timeout   string  `yaml:"timeout"`
	} `yaml:"rpc"`
	Contract struct {
		Address          string `yaml:"address"`
		DefaultRecipient string `yaml:"default_recipient"`
	} `yaml:"contract"`
	Accounts struct {
		File string `yaml:"file"`
	} `yaml:"accounts"`
	Executor struct {
		MaxRetries      int     `yaml:"max_retries"`
		GasMultiplier   float64 `yaml:"gas_multiplier"`
		SuccessCooldown string  `yaml:"success_cooldown"`
		ErrorCooldown   string  `yaml:"error_cooldown"`
		ReceiptTimeout  string  `yaml:"receipt_timeout"`
		ReceiptPoll     string  `yaml:"receipt_poll"`
	} `yaml:"executor"`
	Scheduler struct {
		CooldownWindow  string `yaml:"cooldown_window"`
		SafetyMargin    string `yaml:"safety_margin"`
		RescanInterval  string `yaml:"rescan_interval"`
		FailureDelay    string `yaml:"failure_delay"`
		SeedDueAccounts bool   `yaml:"seed_due_accounts"`
	} `yaml:"scheduler"`
	Gas struct {
		RefreshInterval string `yaml:"refresh_interval"`
	} `yaml:"gas"`
	Health struct {
		Listen     *string `yaml:"listen"`
		MaxFailing string  `yaml:"max_failing"`
	} `yaml:"health"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
}

type RPC struct {
	URL       string
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

type Executor struct {
	MaxRetries      int
	GasMultiplier   float64
	SuccessCooldown time.Duration
	ErrorCooldown   time.Duration
	ReceiptTimeout  time.Duration
	ReceiptPoll     time.Duration
}

type Scheduler struct {
	CooldownWindow  time.Duration
	SafetyMargin    time.Duration
	RescanInterval  time.Duration
	FailureDelay    time.Duration
	SeedDueAccounts bool
}

type Log struct {
	Level string
	JSON  bool
}

// Config is the resolved runtime configuration.
type Config struct {
	RPC              RPC
	Contract         common.Address
	DefaultRecipient common.Address
	AccountsFile     string
	Executor         Executor
	Scheduler        Scheduler
	GasRefresh       time.Duration
	HealthListen     string
	HealthMaxFailing time.Duration
	Log              Log

	contractRaw  string
	recipientRaw string
}

// Default returns a config with every knob at its built-in value. Contract
// and recipient must still be supplied.
func Default() Config {
	return Config{
		RPC: RPC{
			URL:     DefaultRPC,
			Burst:   1,
			Timeout: DefaultRPCTimeout,
		},
		AccountsFile: "private_keys.txt",
		Executor: Executor{
			MaxRetries:      DefaultMaxRetries,
			GasMultiplier:   DefaultGasMultiplier,
			SuccessCooldown: DefaultSuccessCooldown,
			ErrorCooldown:   DefaultErrorCooldown,
			ReceiptTimeout:  DefaultReceiptTimeout,
			ReceiptPoll:     DefaultReceiptPoll,
		},
		Scheduler: Scheduler{
			CooldownWindow: DefaultCooldownWindow,
			SafetyMargin:   DefaultSafetyMargin,
			RescanInterval: DefaultRescanInterval,
			FailureDelay:   DefaultFailureDelay,
		},
		GasRefresh:       DefaultGasRefresh,
		HealthListen:     ":8080",
		HealthMaxFailing: DefaultHealthMaxFail,
		Log:              Log{Level: "info"},
	}
}

// Load reads a YAML file on top of Default. An empty path returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes on top of Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("yaml unmarshal: %w", err)
	}

	if err := cfg.apply(&f); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) apply(f *File) error {
	var err error

	if s := strings.TrimSpace(f.RPC.URL); s != "" {
		c.RPC.URL = s
	}
	if f.RPC.RateLimit < 0 {
		return fmt.Errorf("rpc.rate_limit: must be >= 0")
	}
	c.RPC.RateLimit = f.RPC.RateLimit
	if f.RPC.Burst > 0 {
		c.RPC.Burst = f.RPC.Burst
	}
	if c.RPC.Timeout, err = ParseDurationOrDefault("rpc.timeout", f.RPC.Timeout, c.RPC.Timeout); err != nil {
		return err
	}

	c.SetContract(f.Contract.Address)
	c.SetRecipient(f.Contract.DefaultRecipient)
	if s := strings.TrimSpace(f.Accounts.File); s != "" {
		c.AccountsFile = s
	}

	e := &c.Executor
	if f.Executor.MaxRetries < 0 {
		return fmt.Errorf("executor.max_retries: must be >= 0")
	}
	if f.Executor.MaxRetries > 0 {
		e.MaxRetries = f.Executor.MaxRetries
	}
	if f.Executor.GasMultiplier < 0 {
		return fmt.Errorf("executor.gas_multiplier: must be >= 0")
	}
	if f.Executor.GasMultiplier > 0 {
		e.GasMultiplier = f.Executor.GasMultiplier
	}
	if e.SuccessCooldown, err = ParseDurationOrDefault("executor.success_cooldown", f.Executor.SuccessCooldown, e.SuccessCooldown); err != nil {
		return err
	}
	if e.ErrorCooldown, err = ParseDurationOrDefault("executor.error_cooldown", f.Executor.ErrorCooldown, e.ErrorCooldown); err != nil {
		return err
	}
	if e.ReceiptTimeout, err = ParseDurationOrDefault("executor.receipt_timeout", f.Executor.ReceiptTimeout, e.ReceiptTimeout); err != nil {
		return err
	}
	if e.ReceiptPoll, err = ParseDurationOrDefault("executor.receipt_poll", f.Executor.ReceiptPoll, e.ReceiptPoll); err != nil {
		return err
	}

	s := &c.Scheduler
	if s.CooldownWindow, err = ParseDurationOrDefault("scheduler.cooldown_window", f.Scheduler.CooldownWindow, s.CooldownWindow); err != nil {
		return err
	}
	if s.SafetyMargin, err = ParseDurationOrDefault("scheduler.safety_margin", f.Scheduler.SafetyMargin, s.SafetyMargin); err != nil {
		return err
	}
	if s.RescanInterval, err = ParseDurationOrDefault("scheduler.rescan_interval", f.Scheduler.RescanInterval, s.RescanInterval); err != nil {
		return err
	}
	if s.FailureDelay, err = ParseDurationOrDefault("scheduler.failure_delay", f.Scheduler.FailureDelay, s.FailureDelay); err != nil {
		return err
	}
	s.SeedDueAccounts = f.Scheduler.SeedDueAccounts

	if c.GasRefresh, err = ParseDurationOrDefault("gas.refresh_interval", f.Gas.RefreshInterval, c.GasRefresh); err != nil {
		return err
	}
	if f.Health.Listen != nil {
		c.HealthListen = strings.TrimSpace(*f.Health.Listen)
	}
	if c.HealthMaxFailing, err = ParseDurationOrDefault("health.max_failing", f.Health.MaxFailing, c.HealthMaxFailing); err != nil {
		return err
	}
	if lvl := strings.TrimSpace(f.Log.Level); lvl != "" {
		c.Log.Level = lvl
	}
	c.Log.JSON = f.Log.JSON
	return nil
}

// SetContract records a raw contract address; Validate checks it.
func (c *Config) SetContract(raw string) {
	if s := strings.TrimSpace(raw); s != "" {
		c.contractRaw = s
	}
}

// SetRecipient records a raw default recipient; Validate checks it.
func (c *Config) SetRecipient(raw string) {
	if s := strings.TrimSpace(raw); s != "" {
		c.recipientRaw = s
	}
}

// Validate resolves addresses and rejects unusable values. Address errors
// are fatal at startup.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.contractRaw) {
		return fmt.Errorf("%w: %q", ErrInvalidContract, c.contractRaw)
	}
	c.Contract = common.HexToAddress(c.contractRaw)

	if !common.IsHexAddress(c.recipientRaw) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, c.recipientRaw)
	}
	c.DefaultRecipient = common.HexToAddress(c.recipientRaw)

	if strings.TrimSpace(c.RPC.URL) == "" {
		return errors.New("rpc.url: required")
	}
	if strings.TrimSpace(c.AccountsFile) == "" {
		return errors.New("accounts.file: required")
	}
	if c.Executor.MaxRetries < 1 {
		return errors.New("executor.max_retries: must be >= 1")
	}
	if c.Executor.GasMultiplier <= 0 {
		return errors.New("executor.gas_multiplier: must be > 0")
	}
	if c.Executor.ReceiptTimeout <= 0 {
		return errors.New("executor.receipt_timeout: must be > 0")
	}
	if c.Executor.ReceiptPoll <= 0 {
		return errors.New("executor.receipt_poll: must be > 0")
	}
	if c.RPC.Timeout <= 0 {
		return errors.New("rpc.timeout: must be > 0")
	}
	if c.Scheduler.CooldownWindow <= 0 {
		return errors.New("scheduler.cooldown_window: must be > 0")
	}
	if c.Scheduler.RescanInterval <= 0 {
		return errors.New("scheduler.rescan_interval: must be > 0")
	}
	if c.Scheduler.FailureDelay <= 0 {
		return errors.New("scheduler.failure_delay: must be > 0")
	}
	if c.GasRefresh <= 0 {
		return errors.New("gas.refresh_interval: must be > 0")
	}
	return nil
}
