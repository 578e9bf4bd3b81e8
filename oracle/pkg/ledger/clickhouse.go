package ledger

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

const bulkLookupConcurrency = 16

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Addr == "" {
		return errors.New("CLICKHOUSE_ADDR is required")
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	return nil
}

// ClickHouse reads the reward index from ClickHouse. Tables are
// ReplacingMergeTrees, so every read uses FINAL.
type ClickHouse struct {
	log  *slog.Logger
	conn driver.Conn
}

func NewClickHouse(ctx context.Context, log *slog.Logger, cfg ClickHouseConfig) (*ClickHouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	}
	// ClickHouse Cloud serves the native protocol over TLS on 9440.
	if cfg.Secure {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Info("ledger: connected to clickhouse", "addr", cfg.Addr, "database", cfg.Database, "secure", cfg.Secure)
	return &ClickHouse{log: log, conn: conn}, nil
}

func (c *ClickHouse) Close() {
	if err := c.conn.Close(); err != nil {
		c.log.Warn("ledger: failed to close clickhouse connection", "error", err)
	}
}

const (
	chRewardIndex = `(SELECT address, rewards, last_reward, reward_type FROM reward_index FINAL)`
	chKeyToAssets = `(SELECT address, asset, encoded_entity_key FROM key_to_assets FINAL)`
)

func (c *ClickHouse) Record(ctx context.Context, entityKey string) (*RewardRecord, error) {
	return c.queryRecord(ctx, `
		SELECT address, toString(rewards), last_reward, reward_type
		FROM reward_index FINAL
		WHERE address = ?
		LIMIT 1`, entityKey)
}

func (c *ClickHouse) RecordByAsset(ctx context.Context, asset solana.PublicKey) (*RewardRecord, error) {
	return c.queryRecord(ctx, `
		SELECT ri.address, toString(ri.rewards), ri.last_reward, ri.reward_type
		FROM `+chKeyToAssets+` AS kta
		INNER JOIN `+chRewardIndex+` AS ri ON ri.address = kta.encoded_entity_key
		WHERE kta.asset = ?
		LIMIT 1`, asset.String())
}

func (c *ClickHouse) queryRecord(ctx context.Context, query string, arg string) (*RewardRecord, error) {
	var (
		rec     RewardRecord
		rewards string
		kind    string
	)
	err := c.conn.QueryRow(ctx, query, arg).Scan(&rec.EntityKey, &rewards, &rec.LastRewardAt, &kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reward index: %w", err)
	}
	if rec.LifetimeReward, err = parseAmount(rewards); err != nil {
		return nil, err
	}
	rec.LastRewardAt = rec.LastRewardAt.UTC()
	rec.Kind = RewardKind(kind)
	return &rec, nil
}

func (c *ClickHouse) BulkLifetimeRewards(ctx context.Context, entityKeys []string) (map[string]uint64, error) {
	var mu sync.Mutex
	out := make(map[string]uint64, len(entityKeys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkLookupConcurrency)
	for _, key := range entityKeys {
		g.Go(func() error {
			rec, err := c.Record(gctx, key)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[key] = rec.LifetimeReward
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ClickHouse) KeyToAssetByAsset(ctx context.Context, asset solana.PublicKey) (*KeyToAsset, error) {
	var address, assetStr, entityKey string
	err := c.conn.QueryRow(ctx, `
		SELECT address, asset, encoded_entity_key
		FROM key_to_assets FINAL
		WHERE asset = ?
		LIMIT 1`, asset.String()).Scan(&address, &assetStr, &entityKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key to asset: %w", err)
	}
	return toKeyToAsset(address, assetStr, entityKey)
}

func (c *ClickHouse) TotalRewards(ctx context.Context) (*big.Int, error) {
	var total string
	if err := c.conn.QueryRow(ctx, `SELECT toString(sum(toUInt128(rewards))) FROM reward_index FINAL`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to sum rewards: %w", err)
	}
	return parseBig(total)
}

func (c *ClickHouse) ActiveEntityCount(ctx context.Context, kind RewardKind, since time.Time) (uint64, error) {
	var count uint64
	err := c.conn.QueryRow(ctx, `
		SELECT count()
		FROM reward_index FINAL
		WHERE reward_type = ? AND last_reward >= ?`, string(kind), since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active entities: %w", err)
	}
	return count, nil
}

func (c *ClickHouse) WalletRewards(ctx context.Context, wallet solana.PublicKey, role WalletRole, lazyDistributor solana.PublicKey) (*WalletRewards, error) {
	var query string
	var args []any
	switch role {
	case WalletRoleDestination:
		query = `
			SELECT
				toString(sum(toUInt128(ri.rewards))),
				toString(sum(toUInt128(greatest(ri.rewards, r.total_rewards) - r.total_rewards)))
			FROM (SELECT asset, total_rewards FROM recipients FINAL WHERE destination = ? AND lazy_distributor = ?) AS r
			INNER JOIN ` + chKeyToAssets + ` AS kta ON kta.asset = r.asset
			INNER JOIN ` + chRewardIndex + ` AS ri ON ri.address = kta.encoded_entity_key`
		args = []any{wallet.String(), lazyDistributor.String()}
	default:
		query = `
			SELECT
				toString(sum(toUInt128(ri.rewards))),
				toString(sum(toUInt128(greatest(ri.rewards, r.total_rewards) - r.total_rewards)))
			FROM (SELECT asset FROM asset_owners FINAL WHERE owner = ?) AS ao
			INNER JOIN ` + chKeyToAssets + ` AS kta ON kta.asset = ao.asset
			INNER JOIN ` + chRewardIndex + ` AS ri ON ri.address = kta.encoded_entity_key
			LEFT JOIN (SELECT asset, total_rewards, destination FROM recipients FINAL WHERE lazy_distributor = ?) AS r ON r.asset = ao.asset
			WHERE r.destination = ''`
		args = []any{wallet.String(), lazyDistributor.String()}
	}

	var lifetime, pending string
	if err := c.conn.QueryRow(ctx, query, args...).Scan(&lifetime, &pending); err != nil {
		return nil, fmt.Errorf("failed to query wallet rewards: %w", err)
	}
	l, err := parseBig(lifetime)
	if err != nil {
		return nil, err
	}
	p, err := parseBig(pending)
	if err != nil {
		return nil, err
	}
	return &WalletRewards{Lifetime: l, Pending: p}, nil
}

func (c *ClickHouse) WalletEntities(ctx context.Context, wallet, lazyDistributor solana.PublicKey, limit, offset int) ([]WalletEntity, error) {
	query := fmt.Sprintf(`
		SELECT kta.address, kta.asset, kta.encoded_entity_key, toString(ri.rewards), toString(r.total_rewards)
		FROM (SELECT asset FROM asset_owners FINAL WHERE owner = ?) AS ao
		INNER JOIN `+chKeyToAssets+` AS kta ON kta.asset = ao.asset
		INNER JOIN `+chRewardIndex+` AS ri ON ri.address = kta.encoded_entity_key
		LEFT JOIN (SELECT asset, total_rewards FROM recipients FINAL WHERE lazy_distributor = ?) AS r ON r.asset = ao.asset
		ORDER BY kta.address
		LIMIT %d OFFSET %d`, limit, offset)

	rows, err := c.conn.Query(ctx, query, wallet.String(), lazyDistributor.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet entities: %w", err)
	}
	defer rows.Close()

	var out []WalletEntity
	for rows.Next() {
		var address, asset, entityKey, lifetime, claimed string
		if err := rows.Scan(&address, &asset, &entityKey, &lifetime, &claimed); err != nil {
			return nil, fmt.Errorf("failed to scan wallet entity: %w", err)
		}
		e, err := toWalletEntity(address, asset, entityKey, lifetime, claimed)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read wallet entities: %w", err)
	}
	return out, nil
}
