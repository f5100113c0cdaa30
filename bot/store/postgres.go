package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"log/slog"

	"github.com/0xBitWishper/buybots/core/logger"
)

// Postgres implements Store on top of the shared sqlx pool.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres wraps an already connected pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

type groupRow struct {
	GroupID              int64          `db:"group_id"`
	Admins               pq.Int64Array  `db:"admins"`
	NetworkID            sql.NullString `db:"network_id"`
	TokenAddress         sql.NullString `db:"token_address"`
	TokenName            sql.NullString `db:"token_name"`
	TokenSymbol          sql.NullString `db:"token_symbol"`
	TokenDecimals        sql.NullInt16  `db:"token_decimals"`
	TokenUpdatedAt       sql.NullTime   `db:"token_updated_at"`
	NotificationsEnabled bool           `db:"notifications_enabled"`
	Emojis               string         `db:"emojis"`
	ImageFileID          string         `db:"image_file_id"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r groupRow) toConfig() GroupConfig {
	cfg := GroupConfig{
		GroupID:              r.GroupID,
		Admins:               []int64(r.Admins),
		NetworkID:            r.NetworkID.String,
		NotificationsEnabled: r.NotificationsEnabled,
		Emojis:               r.Emojis,
		ImageFileID:          r.ImageFileID,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.TokenAddress.Valid && r.TokenAddress.String != "" {
		cfg.Token = &TokenRef{
			Address:   r.TokenAddress.String,
			Name:      r.TokenName.String,
			Symbol:    r.TokenSymbol.String,
			Decimals:  uint8(r.TokenDecimals.Int16),
			UpdatedAt: r.TokenUpdatedAt.Time,
		}
	}
	return cfg
}

const selectColumns = `group_id, admins, network_id, token_address, token_name,
	token_symbol, token_decimals, token_updated_at, notifications_enabled,
	emojis, image_file_id, created_at, updated_at`

// Get returns the stored config or ErrNotFound.
func (s *Postgres) Get(ctx context.Context, groupID int64) (GroupConfig, error) {
	var row groupRow
	query := `SELECT ` + selectColumns + ` FROM group_configs WHERE group_id = $1`
	if err := s.db.GetContext(ctx, &row, query, groupID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GroupConfig{}, ErrNotFound
		}
		return GroupConfig{}, fmt.Errorf("store: get group %d: %w", groupID, err)
	}
	return row.toConfig(), nil
}

// Upsert applies mutate to the current row (or a fresh default) inside a
// transaction holding a row lock, then writes the result back. The returned
// config is the persisted state.
func (s *Postgres) Upsert(ctx context.Context, groupID int64, mutate Mutator) (GroupConfig, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row groupRow
	query := `SELECT ` + selectColumns + ` FROM group_configs WHERE group_id = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &row, query, groupID)
	var cfg GroupConfig
	switch {
	case err == nil:
		cfg = row.toConfig()
	case errors.Is(err, sql.ErrNoRows):
		cfg = GroupConfig{GroupID: groupID, NotificationsEnabled: true}
	default:
		return GroupConfig{}, fmt.Errorf("store: lock group %d: %w", groupID, err)
	}

	if err := mutate(&cfg); err != nil {
		return GroupConfig{}, err
	}
	cfg.GroupID = groupID
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}

	var (
		tokenAddr, tokenName, tokenSymbol sql.NullString
		tokenDecimals                     sql.NullInt16
		tokenUpdatedAt                    sql.NullTime
		networkID                         sql.NullString
	)
	if cfg.NetworkID != "" {
		networkID = sql.NullString{String: cfg.NetworkID, Valid: true}
	}
	if cfg.Token != nil {
		tokenAddr = sql.NullString{String: cfg.Token.Address, Valid: true}
		tokenName = sql.NullString{String: cfg.Token.Name, Valid: true}
		tokenSymbol = sql.NullString{String: cfg.Token.Symbol, Valid: true}
		tokenDecimals = sql.NullInt16{Int16: int16(cfg.Token.Decimals), Valid: true}
		tokenUpdatedAt = sql.NullTime{Time: cfg.Token.UpdatedAt, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO group_configs (
			group_id, admins, network_id, token_address, token_name,
			token_symbol, token_decimals, token_updated_at,
			notifications_enabled, emojis, image_file_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (group_id) DO UPDATE SET
			admins = EXCLUDED.admins,
			network_id = EXCLUDED.network_id,
			token_address = EXCLUDED.token_address,
			token_name = EXCLUDED.token_name,
			token_symbol = EXCLUDED.token_symbol,
			token_decimals = EXCLUDED.token_decimals,
			token_updated_at = EXCLUDED.token_updated_at,
			notifications_enabled = EXCLUDED.notifications_enabled,
			emojis = EXCLUDED.emojis,
			image_file_id = EXCLUDED.image_file_id,
			updated_at = EXCLUDED.updated_at`,
		cfg.GroupID, pq.Int64Array(cfg.Admins), networkID,
		tokenAddr, tokenName, tokenSymbol, tokenDecimals, tokenUpdatedAt,
		cfg.NotificationsEnabled, cfg.Emojis, cfg.ImageFileID,
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return GroupConfig{}, fmt.Errorf("store: upsert group %d: %w", groupID, err)
	}
	if err := tx.Commit(); err != nil {
		return GroupConfig{}, fmt.Errorf("store: commit group %d: %w", groupID, err)
	}

	logger.Store.Debug("group config written",
		slog.String("event", "upsert"),
		slog.Int64("group_id", cfg.GroupID),
		slog.String("network", cfg.NetworkID),
		slog.Bool("configured", cfg.Configured()),
	)
	return cfg, nil
}

// ListWithToken returns configured groups with notifications enabled.
func (s *Postgres) ListWithToken(ctx context.Context) ([]GroupConfig, error) {
	var rows []groupRow
	query := `SELECT ` + selectColumns + ` FROM group_configs
		WHERE token_address IS NOT NULL AND token_address <> ''
		AND notifications_enabled ORDER BY group_id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("store: list configured groups: %w", err)
	}
	out := make([]GroupConfig, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toConfig())
	}
	return out, nil
}
