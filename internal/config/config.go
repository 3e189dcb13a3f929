package config

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// AppConfig ties together chain, mint, polling and service settings.
type AppConfig struct {
	Chain   ChainConfig
	Mint    MintConfig
	Poll    PollConfig
	Output  OutputConfig
	Service ServiceConfig
	Log     LogConfig
}

type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	ContractAddress string
	ReadyMethod     string
	PriceMethod     string
	MintMethod      string
	DryRun          bool
}

// MintConfig describes the priced action. UnitPrice is in wei.
type MintConfig struct {
	UnitPrice      *big.Int
	Quantity       int64
	GasLimit       uint64
	MarkupPercent  int64
	MaxAttempts    int
	ConfirmTimeout time.Duration
}

type PollConfig struct {
	Interval time.Duration
	MaxPolls int
	Timeout  time.Duration
}

type OutputConfig struct {
	SuccessLogPath string
	FailureLogPath string
	LedgerPath     string
	LedgerDSN      string
}

type ServiceConfig struct {
	HTTPAddr        string
	AdminHMACSecret string
	HMACClockSkew   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultEnvFile        = ".env"
	defaultGasLimit       = 300000
	defaultMarkupPercent  = 120
	defaultPollSeconds    = 15
	defaultPollTimeoutMin = 24 * 60
	defaultMaxAttempts    = 3
	defaultConfirmSeconds = 300
)

// Load reads an optional .env file and then aggregates configuration from the environment.
func Load() (*AppConfig, error) {
	if err := LoadEnvFile(); err != nil {
		return nil, err
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadEnvFile applies ENV_FILE (default .env) without overriding variables
// that are already set. A missing file is not an error.
func LoadEnvFile() error {
	envFile := envOr("ENV_FILE", defaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return nil
}

// FromEnv builds the config from the process environment. It reports
// malformed numbers but leaves range checks to Validate.
func FromEnv() (*AppConfig, error) {
	var r envReader

	var unitPrice *big.Int
	if raw := strings.TrimSpace(os.Getenv("MINT_UNIT_PRICE_WEI")); raw != "" {
		parsed, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			r.fail("MINT_UNIT_PRICE_WEI", raw, "an integer")
		}
		unitPrice = parsed
	}

	chainCfg := ChainConfig{
		RPCURL:          envOr("RPC_URL", ""),
		PrivateKey:      envOr("WALLET_PRIVATE_KEY", ""),
		ContractAddress: envOr("MINT_CONTRACT_ADDRESS", ""),
		ReadyMethod:     envOr("READY_METHOD", "mintActive"),
		PriceMethod:     envOrEmpty("PRICE_METHOD", "price"),
		MintMethod:      envOr("MINT_METHOD", "mint"),
		DryRun:          envOrBool("DRY_RUN", false),
	}

	mintCfg := MintConfig{
		UnitPrice:      unitPrice,
		Quantity:       r.intVar("MINT_QUANTITY", 1),
		GasLimit:       r.uintVar("MINT_GAS_LIMIT", defaultGasLimit),
		MarkupPercent:  r.intVar("GAS_MARKUP_PERCENT", defaultMarkupPercent),
		MaxAttempts:    int(r.intVar("MAX_MINT_ATTEMPTS", defaultMaxAttempts)),
		ConfirmTimeout: r.durationVar("CONFIRM_TIMEOUT_SECONDS", defaultConfirmSeconds, time.Second),
	}

	pollCfg := PollConfig{
		Interval: r.durationVar("POLL_INTERVAL_SECONDS", defaultPollSeconds, time.Second),
		MaxPolls: int(r.intVar("MAX_POLLS", 0)),
		Timeout:  r.durationVar("POLL_TIMEOUT_MINUTES", defaultPollTimeoutMin, time.Minute),
	}

	outputCfg := OutputConfig{
		SuccessLogPath: envOr("SUCCESS_LOG_PATH", "mint_success.log"),
		FailureLogPath: envOr("FAILURE_LOG_PATH", "mint_errors.log"),
		LedgerPath:     envOr("LEDGER_PATH", ""),
		LedgerDSN:      envOr("LEDGER_POSTGRES_DSN", ""),
	}

	serviceCfg := ServiceConfig{
		HTTPAddr:        envOr("STATUS_HTTP_ADDR", ""),
		AdminHMACSecret: envOr("ADMIN_HMAC_SECRET", ""),
		HMACClockSkew:   r.durationVar("HMAC_CLOCK_SKEW_SECONDS", 60, time.Second),
	}

	logCfg := LogConfig{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "console"),
	}

	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}

	return &AppConfig{
		Chain:   chainCfg,
		Mint:    mintCfg,
		Poll:    pollCfg,
		Output:  outputCfg,
		Service: serviceCfg,
		Log:     logCfg,
	}, nil
}

// Validate reports every invalid field at once.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Chain.RPCURL == "" && !c.Chain.DryRun {
		errs = append(errs, errors.New("RPC_URL is required"))
	}
	if c.Chain.PrivateKey == "" && !c.Chain.DryRun {
		errs = append(errs, errors.New("WALLET_PRIVATE_KEY is required"))
	}
	if !common.IsHexAddress(c.Chain.ContractAddress) {
		errs = append(errs, fmt.Errorf("MINT_CONTRACT_ADDRESS %q is not a hex address", c.Chain.ContractAddress))
	}
	if c.Chain.ReadyMethod == "" || c.Chain.MintMethod == "" {
		errs = append(errs, errors.New("READY_METHOD and MINT_METHOD must be set"))
	}
	if c.Mint.UnitPrice == nil || c.Mint.UnitPrice.Sign() <= 0 {
		errs = append(errs, errors.New("MINT_UNIT_PRICE_WEI must be positive"))
	}
	if c.Mint.Quantity <= 0 {
		errs = append(errs, errors.New("MINT_QUANTITY must be positive"))
	}
	if c.Mint.GasLimit == 0 {
		errs = append(errs, errors.New("MINT_GAS_LIMIT must be positive"))
	}
	if c.Mint.MarkupPercent < 100 {
		errs = append(errs, errors.New("GAS_MARKUP_PERCENT must be at least 100"))
	}
	if c.Mint.MaxAttempts <= 0 {
		errs = append(errs, errors.New("MAX_MINT_ATTEMPTS must be positive"))
	}
	if c.Mint.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("CONFIRM_TIMEOUT_SECONDS must be positive"))
	}
	if c.Poll.Interval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL_SECONDS must be positive"))
	}
	if c.Poll.MaxPolls < 0 || c.Poll.Timeout < 0 {
		errs = append(errs, errors.New("MAX_POLLS and POLL_TIMEOUT_MINUTES cannot be negative"))
	}
	if c.Service.HMACClockSkew <= 0 {
		errs = append(errs, errors.New("HMAC_CLOCK_SKEW_SECONDS must be positive"))
	}
	if c.Output.SuccessLogPath == "" || c.Output.FailureLogPath == "" {
		errs = append(errs, errors.New("SUCCESS_LOG_PATH and FAILURE_LOG_PATH must be set"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

// envOrEmpty treats an explicitly empty variable as a value rather than falling back.
func envOrEmpty(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return fallback
}

// envReader parses numeric variables and keeps every parse failure.
type envReader struct {
	errs []error
}

func (r *envReader) fail(key, raw, want string) {
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not %s", key, raw, want))
}

func (r *envReader) intVar(key string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		r.fail(key, raw, "an integer")
		return fallback
	}
	return n
}

func (r *envReader) uintVar(key string, fallback uint64) uint64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		r.fail(key, raw, "a non-negative integer")
		return fallback
	}
	return n
}

func (r *envReader) durationVar(key string, fallback int64, unit time.Duration) time.Duration {
	n := r.intVar(key, fallback)
	if n > int64(math.MaxInt64/unit) || n < int64(math.MinInt64/unit) {
		r.fail(key, strconv.FormatInt(n, 10), "a representable duration")
		return time.Duration(fallback) * unit
	}
	return time.Duration(n) * unit
}

func envOrBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
