package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int32
}

func (cfg *PostgresConfig) Validate() error {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == "" {
		cfg.Port = "5432"
	}
	if cfg.Database == "" {
		return errors.New("POSTGRES_DB is required")
	}
	if cfg.Username == "" {
		return errors.New("POSTGRES_USER is required")
	}
	if cfg.Password == "" {
		return errors.New("POSTGRES_PASSWORD is required")
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 10
	}
	return nil
}

// ConnString renders the config as a postgres URL.
func (cfg *PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=" + url.QueryEscape(cfg.SSLMode),
	}
	return u.String()
}

// Postgres reads the reward index from PostgreSQL.
type Postgres struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

// NewPostgres connects to connStr and verifies the connection.
func NewPostgres(ctx context.Context, log *slog.Logger, connStr string, maxConns int32) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info("ledger: connected to postgres", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	return &Postgres{log: log, pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(log *slog.Logger, pool *pgxpool.Pool) *Postgres {
	return &Postgres{log: log, pool: pool}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Record(ctx context.Context, entityKey string) (*RewardRecord, error) {
	return p.queryRecord(ctx, `
		SELECT address, rewards::text, last_reward, reward_type
		FROM reward_index
		WHERE address = $1`, entityKey)
}

func (p *Postgres) RecordByAsset(ctx context.Context, asset solana.PublicKey) (*RewardRecord, error) {
	return p.queryRecord(ctx, `
		SELECT ri.address, ri.rewards::text, ri.last_reward, ri.reward_type
		FROM key_to_assets kta
		JOIN reward_index ri ON ri.address = kta.encoded_entity_key
		WHERE kta.asset = $1
		LIMIT 1`, asset.String())
}

func (p *Postgres) queryRecord(ctx context.Context, query string, arg string) (*RewardRecord, error) {
	var (
		rec        RewardRecord
		rewards    string
		lastReward *time.Time
		kind       string
	)
	err := p.pool.QueryRow(ctx, query, arg).Scan(&rec.EntityKey, &rewards, &lastReward, &kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query reward index: %w", err)
	}
	if rec.LifetimeReward, err = parseAmount(rewards); err != nil {
		return nil, err
	}
	if lastReward != nil {
		rec.LastRewardAt = lastReward.UTC()
	}
	rec.Kind = RewardKind(kind)
	return &rec, nil
}

func (p *Postgres) BulkLifetimeRewards(ctx context.Context, entityKeys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(entityKeys))
	if len(entityKeys) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT address, rewards::text
		FROM reward_index
		WHERE address = ANY($1)`, entityKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query reward index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, rewards string
		if err := rows.Scan(&key, &rewards); err != nil {
			return nil, fmt.Errorf("failed to scan reward index row: %w", err)
		}
		amount, err := parseAmount(rewards)
		if err != nil {
			return nil, err
		}
		out[key] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reward index rows: %w", err)
	}
	return out, nil
}

func (p *Postgres) KeyToAssetByAsset(ctx context.Context, asset solana.PublicKey) (*KeyToAsset, error) {
	var address, assetStr, entityKey string
	err := p.pool.QueryRow(ctx, `
		SELECT address, asset, encoded_entity_key
		FROM key_to_assets
		WHERE asset = $1
		LIMIT 1`, asset.String()).Scan(&address, &assetStr, &entityKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query key to asset: %w", err)
	}
	return toKeyToAsset(address, assetStr, entityKey)
}

func toKeyToAsset(address, asset, entityKey string) (*KeyToAsset, error) {
	addressKey, err := parseKey(address)
	if err != nil {
		return nil, err
	}
	assetKey, err := parseKey(asset)
	if err != nil {
		return nil, err
	}
	return &KeyToAsset{Address: addressKey, Asset: assetKey, EntityKey: entityKey}, nil
}

func (p *Postgres) TotalRewards(ctx context.Context) (*big.Int, error) {
	var total string
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(SUM(rewards), 0)::text FROM reward_index`).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to sum rewards: %w", err)
	}
	return parseBig(total)
}

func (p *Postgres) ActiveEntityCount(ctx context.Context, kind RewardKind, since time.Time) (uint64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM reward_index
		WHERE reward_type = $1 AND last_reward >= $2`, string(kind), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active entities: %w", err)
	}
	return uint64(count), nil
}

const (
	walletRewardsByOwnerQuery = `
		SELECT
			COALESCE(SUM(ri.rewards), 0)::text,
			COALESCE(SUM(GREATEST(ri.rewards - COALESCE(r.total_rewards, 0), 0)), 0)::text
		FROM asset_owners ao
		JOIN key_to_assets kta ON kta.asset = ao.asset
		JOIN reward_index ri ON ri.address = kta.encoded_entity_key
		LEFT JOIN recipients r ON r.asset = ao.asset AND r.lazy_distributor = $2
		WHERE ao.owner = $1 AND COALESCE(r.destination, '') = ''`

	walletRewardsByDestinationQuery = `
		SELECT
			COALESCE(SUM(ri.rewards), 0)::text,
			COALESCE(SUM(GREATEST(ri.rewards - r.total_rewards, 0)), 0)::text
		FROM recipients r
		JOIN key_to_assets kta ON kta.asset = r.asset
		JOIN reward_index ri ON ri.address = kta.encoded_entity_key
		WHERE r.destination = $1 AND r.lazy_distributor = $2`
)

func (p *Postgres) WalletRewards(ctx context.Context, wallet solana.PublicKey, role WalletRole, lazyDistributor solana.PublicKey) (*WalletRewards, error) {
	query := walletRewardsByOwnerQuery
	if role == WalletRoleDestination {
		query = walletRewardsByDestinationQuery
	}
	var lifetime, pending string
	if err := p.pool.QueryRow(ctx, query, wallet.String(), lazyDistributor.String()).Scan(&lifetime, &pending); err != nil {
		return nil, fmt.Errorf("failed to query wallet rewards: %w", err)
	}
	l, err := parseBig(lifetime)
	if err != nil {
		return nil, err
	}
	pd, err := parseBig(pending)
	if err != nil {
		return nil, err
	}
	return &WalletRewards{Lifetime: l, Pending: pd}, nil
}

func (p *Postgres) WalletEntities(ctx context.Context, wallet, lazyDistributor solana.PublicKey, limit, offset int) ([]WalletEntity, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT kta.address, kta.asset, kta.encoded_entity_key, ri.rewards::text, COALESCE(r.total_rewards, 0)::text
		FROM asset_owners ao
		JOIN key_to_assets kta ON kta.asset = ao.asset
		JOIN reward_index ri ON ri.address = kta.encoded_entity_key
		LEFT JOIN recipients r ON r.asset = ao.asset AND r.lazy_distributor = $2
		WHERE ao.owner = $1
		ORDER BY kta.address
		LIMIT $3 OFFSET $4`, wallet.String(), lazyDistributor.String(), limit, offset)
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

func toWalletEntity(address, asset, entityKey, lifetime, claimed string) (*WalletEntity, error) {
	kta, err := toKeyToAsset(address, asset, entityKey)
	if err != nil {
		return nil, err
	}
	e := &WalletEntity{KeyToAsset: kta.Address, Asset: kta.Asset, EntityKey: entityKey}
	if e.Lifetime, err = parseAmount(lifetime); err != nil {
		return nil, err
	}
	if e.Claimed, err = parseAmount(claimed); err != nil {
		return nil, err
	}
	return e, nil
}
