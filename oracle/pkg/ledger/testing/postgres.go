package ledgertesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

type PostgresConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "test"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// PostgresDB is a PostgreSQL test container holding the migrated ledger schema.
type PostgresDB struct {
	log       *slog.Logger
	connStr   string
	container *tcpostgres.PostgresContainer
}

func (db *PostgresDB) ConnStr() string {
	return db.connStr
}

func (db *PostgresDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

// NewPostgresDB starts a container and applies the ledger migrations.
func NewPostgresDB(ctx context.Context, log *slog.Logger, cfg *PostgresConfig) (*PostgresDB, error) {
	if cfg == nil {
		cfg = &PostgresConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	var container *tcpostgres.PostgresContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcpostgres.Run(ctx,
			cfg.ContainerImage,
			tcpostgres.WithDatabase(cfg.Database),
			tcpostgres.WithUsername(cfg.Username),
			tcpostgres.WithPassword(cfg.Password),
			tcpostgres.BasicWaitStrategies(),
			tcpostgres.WithSQLDriver("pgx"),
		)
		if err == nil {
			break
		}
		lastErr = err
		if !isRetryableContainerStartErr(err) || attempt == 3 {
			return nil, fmt.Errorf("failed to start PostgreSQL container after retries: %w", lastErr)
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	if err := ledger.MigratePostgres(ctx, log, connStr); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &PostgresDB{log: log, connStr: connStr, container: container}, nil
}

// NewPostgresLedger returns a ledger over a freshly truncated schema and the
// pool used to seed it.
func NewPostgresLedger(t *testing.T, db *PostgresDB) (*ledger.Postgres, *pgxpool.Pool) {
	t.Helper()
	ctx := t.Context()

	pool, err := pgxpool.New(ctx, db.connStr)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE reward_index, key_to_assets, recipients, asset_owners`)
	require.NoError(t, err)

	l := ledger.NewPostgresFromPool(db.log, pool)
	t.Cleanup(l.Close)
	return l, pool
}

// SeedPostgres inserts the fixture rows.
func SeedPostgres(t *testing.T, pool *pgxpool.Pool, f Fixture) {
	t.Helper()
	ctx := t.Context()
	for _, r := range f.Rewards {
		_, err := pool.Exec(ctx,
			`INSERT INTO reward_index (address, rewards, last_reward, reward_type) VALUES ($1, $2::numeric, $3, $4)`,
			r.EntityKey, fmt.Sprintf("%d", r.LifetimeReward), r.LastRewardAt, string(r.Kind))
		require.NoError(t, err)
	}
	for _, k := range f.KeyToAssets {
		_, err := pool.Exec(ctx,
			`INSERT INTO key_to_assets (address, dao, asset, entity_key, key_serialization, encoded_entity_key) VALUES ($1, $2, $3, $4, 'b58', $5)`,
			k.Address.String(), f.Dao.String(), k.Asset.String(), []byte(k.EntityKey), k.EntityKey)
		require.NoError(t, err)
	}
	for _, r := range f.Recipients {
		var destination *string
		if !r.Destination.IsZero() {
			s := r.Destination.String()
			destination = &s
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO recipients (address, lazy_distributor, asset, total_rewards, destination) VALUES ($1, $2, $3, $4::numeric, $5)`,
			r.Address.String(), r.LazyDistributor.String(), r.Asset.String(), fmt.Sprintf("%d", r.TotalRewards), destination)
		require.NoError(t, err)
	}
	for asset, owner := range f.Owners {
		_, err := pool.Exec(ctx, `INSERT INTO asset_owners (asset, owner) VALUES ($1, $2)`, asset.String(), owner.String())
		require.NoError(t, err)
	}
}

func isRetryableContainerStartErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "wait until ready") ||
		strings.Contains(s, "mapped port") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "context deadline exceeded") ||
		strings.Contains(s, "/containers/") && strings.Contains(s, "json") ||
		strings.Contains(s, "Get \"http://%2Fvar%2Frun%2Fdocker.sock")
}
