package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS versions (
	id          BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	content     TEXT NOT NULL,
	created_by  TEXT,
	name        TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS versions_document_created_idx ON versions (document_id, created_at DESC);
`

// PostgresStore keeps documents and versions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool for url and ensures the schema exists.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	glog.Infof("[store]connected to postgres")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc := Document{ID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT title, COALESCE(content, ''), updated_at FROM documents WHERE id = $1`, id,
	).Scan(&doc.Title, &doc.Content, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	if doc.ID == "" {
		doc.ID = ulid.Make().String()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO documents (id, title, content) VALUES ($1, $2, $3) RETURNING updated_at`,
		doc.ID, doc.Title, doc.Content,
	).Scan(&doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}
	return &doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, COALESCE(content, ''), updated_at FROM documents ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, id string, patch DocumentPatch) (*Document, error) {
	doc := Document{ID: id}
	err := s.pool.QueryRow(ctx,
		`UPDATE documents
		 SET title = COALESCE($2, title), content = COALESCE($3, content), updated_at = now()
		 WHERE id = $1
		 RETURNING title, COALESCE(content, ''), updated_at`,
		id, patch.Title, patch.Content,
	).Scan(&doc.Title, &doc.Content, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return &doc, nil
}

// DeleteDocument also drops the document's versions through the foreign key.
func (s *PostgresStore) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) CreateVersion(ctx context.Context, v Version) (*Version, error) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	var createdBy *string
	if v.CreatedBy != "" {
		createdBy = &v.CreatedBy
	}

	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO versions (document_id, content, created_by, name, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		v.DocumentID, v.Content, createdBy, v.Label, v.CreatedAt,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert version for %s: %w", v.DocumentID, err)
	}
	v.ID = strconv.FormatInt(id, 10)
	return &v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, id string) (*Version, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, ErrVersionNotFound
	}
	v := Version{ID: id}
	err = s.pool.QueryRow(ctx,
		`SELECT document_id, content, COALESCE(created_by, ''), name, created_at FROM versions WHERE id = $1`, n,
	).Scan(&v.DocumentID, &v.Content, &v.CreatedBy, &v.Label, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, fmt.Errorf("failed to load version %s: %w", id, err)
	}
	return &v, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, COALESCE(created_by, ''), name, created_at
		 FROM versions WHERE document_id = $1 ORDER BY created_at DESC, id DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions for %s: %w", documentID, err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var id int64
		v := Version{DocumentID: documentID}
		if err := rows.Scan(&id, &v.Content, &v.CreatedBy, &v.Label, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.ID = strconv.FormatInt(id, 10)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
