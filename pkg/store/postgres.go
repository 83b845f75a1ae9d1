package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xhad/webrag/internal/models"
)

type PostgresStoreConfig struct {
	ConnString string
	TableName  string
}

// PostgresStore keeps fetched pages in a table so they survive restarts.
type PostgresStore struct {
	config PostgresStoreConfig
	pool   *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, config PostgresStoreConfig) (*PostgresStore, error) {
	if config.TableName == "" {
		config.TableName = "web_content"
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	ps := &PostgresStore{
		config: config,
		pool:   pool,
	}

	if err := ps.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return ps, nil
}

func (ps *PostgresStore) initialize(ctx context.Context) error {
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			url TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			fetched_at TIMESTAMPTZ NOT NULL,
			inserted_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, pgx.Identifier{ps.config.TableName}.Sanitize())

	if _, err := ps.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

func (ps *PostgresStore) table() string {
	return pgx.Identifier{ps.config.TableName}.Sanitize()
}

func (ps *PostgresStore) Get(ctx context.Context, url string) (models.WebContent, bool, error) {
	query := fmt.Sprintf(`SELECT url, title, content, fetched_at FROM %s WHERE url = $1`, ps.table())

	var content models.WebContent
	err := ps.pool.QueryRow(ctx, query, url).Scan(
		&content.URL,
		&content.Title,
		&content.Content,
		&content.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.WebContent{}, false, nil
	}
	if err != nil {
		return models.WebContent{}, false, fmt.Errorf("failed to load %s: %w", url, err)
	}
	return content, true, nil
}

func (ps *PostgresStore) Put(ctx context.Context, content models.WebContent) error {
	stmt := fmt.Sprintf(`
		INSERT INTO %s (url, title, content, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			fetched_at = EXCLUDED.fetched_at`,
		ps.table())

	_, err := ps.pool.Exec(ctx, stmt,
		content.URL,
		sanitizeUTF8(content.Title),
		sanitizeUTF8(content.Content),
		content.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", content.URL, err)
	}
	return nil
}

func (ps *PostgresStore) Clear(ctx context.Context) error {
	if _, err := ps.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s`, ps.table())); err != nil {
		return fmt.Errorf("failed to clear content: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetAll(ctx context.Context) ([]models.WebContent, error) {
	query := fmt.Sprintf(`SELECT url, title, content, fetched_at FROM %s ORDER BY inserted_at, url`, ps.table())

	rows, err := ps.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query content: %w", err)
	}
	defer rows.Close()

	all := []models.WebContent{}
	for rows.Next() {
		var content models.WebContent
		if err := rows.Scan(&content.URL, &content.Title, &content.Content, &content.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		all = append(all, content)
	}
	return all, rows.Err()
}

func (ps *PostgresStore) Close() {
	if ps.pool != nil {
		ps.pool.Close()
	}
}

// Postgres rejects invalid UTF-8 in TEXT columns.
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
