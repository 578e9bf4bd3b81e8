package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/distributor-oracle/oracle/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func requiredEnv() map[string]string {
	return map[string]string{
		"ORACLE_KEYPAIR_PATH": "/keys/oracle.json",
		"PUBLIC_URL":          "https://oracle.example.com",
		"LAZY_DISTRIBUTOR":    solana.NewWallet().PublicKey().String(),
		"DAO":                 solana.NewWallet().PublicKey().String(),
		"TASK_QUEUE":          solana.NewWallet().PublicKey().String(),
		"POSTGRES_DB":         "rewards",
		"POSTGRES_USER":       "oracle",
		"POSTGRES_PASSWORD":   "secret",
	}
}

func TestLoad_Defaults(t *testing.T) {
	env := requiredEnv()
	cfg, err := config.Load(nil, envMap(env))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultListenAddr, cfg.ListenAddr)
	assert.Equal(t, config.DefaultSolanaURL, cfg.SolanaURL)
	assert.Equal(t, cfg.SolanaURL, cfg.AssetAPIURL)
	assert.Equal(t, 5, cfg.MaxClaimsPerTx)
	assert.Equal(t, uint64(10000), cfg.BaseFeeLamports)
	assert.Equal(t, 600, cfg.RateLimitPerMinute)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, config.LedgerBackendPostgres, cfg.LedgerBackend)
	assert.False(t, cfg.WillPayRecipient)
	assert.Equal(t, env["LAZY_DISTRIBUTOR"], cfg.LazyDistributor.String())
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, "5432", cfg.Postgres.Port)
}

func TestLoad_EnvOverridesFlags(t *testing.T) {
	env := requiredEnv()
	env["ORACLE_INDEX"] = "2"
	env["WILL_PAY_RECIPIENT"] = "true"
	env["MAX_CLAIMS_PER_TX"] = "8"
	env["SOLANA_URL"] = "http://rpc.local"

	cfg, err := config.Load([]string{
		"--oracle-index=1",
		"--max-claims-per-tx=3",
		"--base-fee-lamports=5000",
		"--solana-url=http://flag.local",
		"--asset-api-url=http://das.local",
	}, envMap(env))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint16(2), cfg.OracleIndex)
	assert.True(t, cfg.WillPayRecipient)
	assert.Equal(t, 8, cfg.MaxClaimsPerTx)
	assert.Equal(t, uint64(5000), cfg.BaseFeeLamports)
	assert.Equal(t, "http://rpc.local", cfg.SolanaURL)
	assert.Equal(t, "http://das.local", cfg.AssetAPIURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		args    []string
		wantErr string
	}{
		{"bad key", map[string]string{"LAZY_DISTRIBUTOR": "nope"}, nil, "invalid LAZY_DISTRIBUTOR"},
		{"bad index", map[string]string{"ORACLE_INDEX": "70000"}, nil, "invalid ORACLE_INDEX"},
		{"bad bool", map[string]string{"WILL_PAY_RECIPIENT": "sure"}, nil, "invalid WILL_PAY_RECIPIENT"},
		{"unknown flag", nil, []string{"--bogus"}, "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.args, envMap(tt.env))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(env map[string]string)
		wantErr string
	}{
		{"missing keypair", func(e map[string]string) { delete(e, "ORACLE_KEYPAIR_PATH") }, "ORACLE_KEYPAIR_PATH"},
		{"missing public url", func(e map[string]string) { delete(e, "PUBLIC_URL") }, "PUBLIC_URL"},
		{"missing lazy distributor", func(e map[string]string) { delete(e, "LAZY_DISTRIBUTOR") }, "LAZY_DISTRIBUTOR"},
		{"missing dao", func(e map[string]string) { delete(e, "DAO") }, "DAO"},
		{"missing task queue", func(e map[string]string) { delete(e, "TASK_QUEUE") }, "TASK_QUEUE"},
		{"missing postgres db", func(e map[string]string) { delete(e, "POSTGRES_DB") }, "POSTGRES_DB"},
		{"unknown backend", func(e map[string]string) { e["LEDGER_BACKEND"] = "sqlite" }, "unknown ledger backend"},
		{"clickhouse without addr", func(e map[string]string) { e["LEDGER_BACKEND"] = "clickhouse" }, "CLICKHOUSE_ADDR"},
		{"too many claims", func(e map[string]string) { e["MAX_CLAIMS_PER_TX"] = "255" }, "at most 254"},
		{"zero rate limit", func(e map[string]string) { e["RATE_LIMIT_PER_MINUTE"] = "0" }, "RATE_LIMIT_PER_MINUTE"},
		{"rate limit disabled", func(e map[string]string) { e["RATE_LIMIT_PER_MINUTE"] = "-1" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := requiredEnv()
			tt.mutate(env)
			cfg, err := config.Load(nil, envMap(env))
			require.NoError(t, err)
			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidate_MigrateNeedsOnlyLedger(t *testing.T) {
	cfg, err := config.Load([]string{"--ledger-migrate", "--ledger-backend=clickhouse"}, envMap(map[string]string{
		"CLICKHOUSE_ADDR": "localhost:9000",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.ClickHouse.Database)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DISTRIBUTOR_ORACLE_TEST_VAR=from-file\n"), 0o600))
	t.Setenv("DISTRIBUTOR_ORACLE_TEST_VAR", "")
	require.NoError(t, os.Unsetenv("DISTRIBUTOR_ORACLE_TEST_VAR"))

	require.NoError(t, config.LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("DISTRIBUTOR_ORACLE_TEST_VAR"))
}
