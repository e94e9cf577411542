package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const (
	testContract  = "0x1111111111111111111111111111111111111111"
	testRecipient = "0x2222222222222222222222222222222222222222"
)

func TestParseOverridesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
rpc:
  url: http://localhost:8545
  rate_limit: 5
  burst: 2
contract:
  address: ` + testContract + `
  default_recipient: ` + testRecipient + `
executor:
  max_retries: 5
  gas_multiplier: 1.5
  error_cooldown: 5s
scheduler:
  rescan_interval: 2m
  seed_due_accounts: true
health:
  listen: ""
log:
  level: debug
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "http://localhost:8545", cfg.RPC.URL)
	require.Equal(t, 5.0, cfg.RPC.RateLimit)
	require.Equal(t, 2, cfg.RPC.Burst)
	require.Equal(t, common.HexToAddress(testContract), cfg.Contract)
	require.Equal(t, common.HexToAddress(testRecipient), cfg.DefaultRecipient)
	require.Equal(t, 5, cfg.Executor.MaxRetries)
	require.Equal(t, 1.5, cfg.Executor.GasMultiplier)
	require.Equal(t, 5*time.Second, cfg.Executor.ErrorCooldown)
	require.Equal(t, DefaultSuccessCooldown, cfg.Executor.SuccessCooldown)
	require.Equal(t, 2*time.Minute, cfg.Scheduler.RescanInterval)
	require.Equal(t, DefaultCooldownWindow, cfg.Scheduler.CooldownWindow)
	require.True(t, cfg.Scheduler.SeedDueAccounts)
	require.Empty(t, cfg.HealthListen)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, 3, cfg.Executor.MaxRetries)
	require.Equal(t, 1.2, cfg.Executor.GasMultiplier)
	require.Equal(t, 10*time.Second, cfg.Executor.SuccessCooldown)
	require.Equal(t, 30*time.Second, cfg.Executor.ErrorCooldown)
	require.Equal(t, 24*time.Hour, cfg.Scheduler.CooldownWindow)
	require.Equal(t, time.Minute, cfg.Scheduler.SafetyMargin)
	require.Equal(t, 60*time.Second, cfg.Scheduler.RescanInterval)
	require.Equal(t, 5*time.Minute, cfg.GasRefresh)
	require.Equal(t, time.Hour, cfg.HealthMaxFailing)
	require.False(t, cfg.Scheduler.SeedDueAccounts)
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("executor:\n  retries: 3\n"))
	require.Error(t, err)
}

func TestParseRejectsBadDuration(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("executor:\n  error_cooldown: soon\n"))
	require.ErrorContains(t, err, "executor.error_cooldown")
}

func TestValidateAddresses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		contract  string
		recipient string
		want      error
	}{
		{name: "missing contract", recipient: testRecipient, want: ErrInvalidContract},
		{name: "bad recipient", contract: testContract, recipient: "0x1234", want: ErrInvalidRecipient},
		{name: "missing recipient", contract: testContract, want: ErrInvalidRecipient},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			cfg.SetContract(tt.contract)
			cfg.SetRecipient(tt.recipient)
			require.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Executor, cfg.Executor)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkin.yaml")
	require.NoError(t, os.WriteFile(path, []byte("accounts:\n  file: keys.txt\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "keys.txt", cfg.AccountsFile)
}

func TestParseKeepsExplicitZeroDurations(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`
contract:
  address: ` + testContract + `
  default_recipient: ` + testRecipient + `
executor:
  success_cooldown: 0s
  error_cooldown: ""
scheduler:
  safety_margin: 0s
health:
  max_failing: 0s
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Zero(t, cfg.Executor.SuccessCooldown)
	require.Zero(t, cfg.Scheduler.SafetyMargin)
	require.Zero(t, cfg.HealthMaxFailing)
	require.Equal(t, DefaultErrorCooldown, cfg.Executor.ErrorCooldown, "empty means default")
}

func TestValidateRejectsZeroWhereRequired(t *testing.T) {
	t.Parallel()

	for _, key := range []string{
		"scheduler:\n  cooldown_window: 0s\n",
		"scheduler:\n  rescan_interval: 0s\n",
		"scheduler:\n  failure_delay: 0s\n",
		"executor:\n  receipt_timeout: 0s\n",
		"executor:\n  receipt_poll: 0s\n",
		"rpc:\n  timeout: 0s\n",
		"gas:\n  refresh_interval: 0s\n",
	} {
		cfg, err := Parse([]byte(key))
		require.NoError(t, err)
		cfg.SetContract(testContract)
		cfg.SetRecipient(testRecipient)
		require.Error(t, cfg.Validate(), key)
	}
}
