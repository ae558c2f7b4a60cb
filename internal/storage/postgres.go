package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createStateTable = `
	CREATE TABLE IF NOT EXISTS client_state (
		state_key  TEXT PRIMARY KEY,
		payload    BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// PostgresStorage 基于 PostgreSQL 的存储（无界面宿主持久化会话时使用）
type PostgresStorage struct {
	db *pgxpool.Pool
}

// NewPostgresStorage 创建存储并确保表存在
func NewPostgresStorage(ctx context.Context, db *pgxpool.Pool) (*PostgresStorage, error) {
	if _, err := db.Exec(ctx, createStateTable); err != nil {
		return nil, fmt.Errorf("create client_state table: %w", err)
	}
	return &PostgresStorage{db: db}, nil
}

func (p *PostgresStorage) Load(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.db.QueryRow(ctx, `SELECT payload FROM client_state WHERE state_key = $1`, key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	return payload, nil
}

func (p *PostgresStorage) Save(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO client_state (state_key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (state_key) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`
	if _, err := p.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}
	return nil
}

func (p *PostgresStorage) Delete(ctx context.Context, key string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM client_state WHERE state_key = $1`, key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Ping 检查数据库连接
func (p *PostgresStorage) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}
