package ledgertesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/malbeclabs/distributor-oracle/oracle/pkg/ledger"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

type ClickHouseConfig struct {
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// ClickHouseDB is a ClickHouse test container. Each test gets its own
// randomly named database.
type ClickHouseDB struct {
	log       *slog.Logger
	cfg       *ClickHouseConfig
	addr      string
	container *tcch.ClickHouseContainer
}

func (db *ClickHouseDB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}

func NewClickHouseDB(ctx context.Context, log *slog.Logger, cfg *ClickHouseConfig) (*ClickHouseDB, error) {
	if cfg == nil {
		cfg = &ClickHouseConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	var container *tcch.ClickHouseContainer
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		container, err = tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
		if err == nil {
			break
		}
		lastErr = err
		if !isRetryableContainerStartErr(err) || attempt == 3 {
			return nil, fmt.Errorf("failed to start ClickHouse container after retries: %w", lastErr)
		}
		time.Sleep(time.Duration(attempt) * 750 * time.Millisecond)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, nat.Port("9000/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &ClickHouseDB{
		log:       log,
		cfg:       cfg,
		addr:      fmt.Sprintf("%s:%s", host, mappedPort.Port()),
		container: container,
	}, nil
}

func (db *ClickHouseDB) config(database string) ledger.ClickHouseConfig {
	return ledger.ClickHouseConfig{
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

// NewClickHouseLedger creates a migrated database for the test and returns a
// ledger over it plus a raw connection for seeding.
func NewClickHouseLedger(t *testing.T, db *ClickHouseDB) (*ledger.ClickHouse, driver.Conn) {
	t.Helper()
	ctx := t.Context()

	admin, err := openWithRetry(ctx, db.config("default"))
	require.NoError(t, err)

	database := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	require.NoError(t, admin.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+database))
	t.Cleanup(func() {
		dropCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = admin.Exec(dropCtx, "DROP DATABASE IF EXISTS "+database)
		admin.Close()
	})

	cfg := db.config(database)
	require.NoError(t, ledger.MigrateClickHouse(ctx, db.log, cfg))

	l, err := ledger.NewClickHouse(ctx, db.log, cfg)
	require.NoError(t, err)
	t.Cleanup(l.Close)

	seed, err := openWithRetry(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { seed.Close() })

	return l, seed
}

// SeedClickHouse inserts the fixture rows synchronously so reads see them.
func SeedClickHouse(t *testing.T, conn driver.Conn, f Fixture) {
	t.Helper()
	ctx := clickhouse.Context(t.Context(), clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":          0,
		"wait_for_async_insert": 1,
	}))
	for _, r := range f.Rewards {
		require.NoError(t, conn.Exec(ctx,
			`INSERT INTO reward_index (address, rewards, last_reward, reward_type) VALUES (?, ?, ?, ?)`,
			r.EntityKey, r.LifetimeReward, r.LastRewardAt, string(r.Kind)))
	}
	for _, k := range f.KeyToAssets {
		require.NoError(t, conn.Exec(ctx,
			`INSERT INTO key_to_assets (address, dao, asset, entity_key, key_serialization, encoded_entity_key) VALUES (?, ?, ?, ?, 'b58', ?)`,
			k.Address.String(), f.Dao.String(), k.Asset.String(), k.EntityKey, k.EntityKey))
	}
	for _, r := range f.Recipients {
		destination := ""
		if !r.Destination.IsZero() {
			destination = r.Destination.String()
		}
		require.NoError(t, conn.Exec(ctx,
			`INSERT INTO recipients (address, lazy_distributor, asset, total_rewards, destination) VALUES (?, ?, ?, ?, ?)`,
			r.Address.String(), r.LazyDistributor.String(), r.Asset.String(), r.TotalRewards, destination))
	}
	for asset, owner := range f.Owners {
		require.NoError(t, conn.Exec(ctx, `INSERT INTO asset_owners (asset, owner) VALUES (?, ?)`, asset.String(), owner.String()))
	}
}

func openWithRetry(ctx context.Context, cfg ledger.ClickHouseConfig) (driver.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		conn, err := clickhouse.Open(&clickhouse.Options{
			Addr: []string{cfg.Addr},
			Auth: clickhouse.Auth{Database: cfg.Database, Username: cfg.Username, Password: cfg.Password},
		})
		if err == nil {
			if err = conn.Ping(ctx); err == nil {
				return conn, nil
			}
			conn.Close()
		}
		lastErr = err
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}
	return nil, fmt.Errorf("failed to connect to ClickHouse: %w", lastErr)
}
