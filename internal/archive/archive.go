// Package archive stores analysis summaries in PostgreSQL and finds
// look-alike faces with pgvector.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/prethora/glowly"
)

// ErrArchive wraps database failures.
var ErrArchive = errors.New("archive: database error")

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	id                 UUID PRIMARY KEY,
	user_id            TEXT NOT NULL DEFAULT '',
	scene              TEXT NOT NULL,
	face_count         INTEGER NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL,
	image_quality      DOUBLE PRECISION NOT NULL,
	duration_ms        BIGINT NOT NULL,
	analyzed_at        TIMESTAMPTZ NOT NULL,
	result             JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS faces (
	id           BIGSERIAL PRIMARY KEY,
	analysis_id  UUID NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
	face_index   INTEGER NOT NULL,
	skin_tone    TEXT,
	quality      DOUBLE PRECISION NOT NULL,
	beauty_score DOUBLE PRECISION,
	embedding    vector(24) NOT NULL,
	UNIQUE (analysis_id, face_index)
);

CREATE INDEX IF NOT EXISTS idx_analyses_user ON analyses (user_id, analyzed_at DESC);
CREATE INDEX IF NOT EXISTS idx_faces_embedding ON faces USING ivfflat (embedding vector_l2_ops) WITH (lists = 100);`

const (
	insertAnalysisQuery = `INSERT INTO analyses
		(id, user_id, scene, face_count, overall_confidence, image_quality, duration_ms, analyzed_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertFaceQuery = `INSERT INTO faces
		(analysis_id, face_index, skin_tone, quality, beauty_score, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	similarQuery = `SELECT a.id::text, a.user_id, f.face_index, f.skin_tone, a.analyzed_at, f.embedding <-> $1 AS distance
		FROM faces f
		JOIN analyses a ON a.id = f.analysis_id
		WHERE ($2 = '' OR a.user_id <> $2)
		ORDER BY f.embedding <-> $1
		LIMIT $3`

	countQuery = `SELECT count(*) FROM analyses`
)

// pool is the part of *pgxpool.Pool the archive uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Match is one look-alike face.
type Match struct {
	AnalysisID string    `json:"analysis_id"`
	UserID     string    `json:"user_id,omitempty"`
	FaceIndex  int       `json:"face_index"`
	SkinTone   string    `json:"skin_tone,omitempty"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	Distance   float64   `json:"distance"`
}

// Archive persists analyses.
type Archive struct {
	pool pool
}

// Open connects to PostgreSQL at dsn.
func Open(ctx context.Context, dsn string) (*Archive, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting: %v", ErrArchive, err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrArchive, err)
	}
	return &Archive{pool: p}, nil
}

// Init creates the vector extension, tables and indexes.
func (a *Archive) Init(ctx context.Context) error {
	if _, err := a.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("%w: creating vector extension: %v", ErrArchive, err)
	}
	if _, err := a.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: creating schema: %v", ErrArchive, err)
	}
	return nil
}

// Save stores res and one descriptor per face, returning the new
// analysis ID.
func (a *Archive) Save(ctx context.Context, userID string, res *glowly.AnalysisResult) (string, error) {
	if res == nil {
		return "", fmt.Errorf("%w: nil result", ErrArchive)
	}
	row, err := newAnalysisRow(userID, res)
	if err != nil {
		return "", err
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchive, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, insertAnalysisQuery,
		row.ID, row.UserID, row.Scene, row.FaceCount, row.OverallConfidence,
		row.ImageQuality, row.DurationMS, row.AnalyzedAt, row.Result)
	if err != nil {
		return "", fmt.Errorf("%w: storing analysis: %v", ErrArchive, err)
	}

	for _, f := range newFaceRows(res.Faces) {
		_, err := tx.Exec(ctx, insertFaceQuery,
			row.ID, f.Index, f.SkinTone, f.Quality, f.BeautyScore, pgvector.NewVector(f.Embedding))
		if err != nil {
			return "", fmt.Errorf("%w: storing face %d: %v", ErrArchive, f.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return row.ID, nil
}

// Similar returns up to limit archived faces nearest to face. Faces
// belonging to excludeUser are skipped when it is non-empty.
func (a *Archive) Similar(ctx context.Context, face glowly.FaceObservation, excludeUser string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.pool.Query(ctx, similarQuery,
		pgvector.NewVector(FaceVector(face)), excludeUser, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: searching: %v", ErrArchive, err)
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var (
			m        Match
			skinTone *string
		)
		if err := rows.Scan(&m.AnalysisID, &m.UserID, &m.FaceIndex, &skinTone, &m.AnalyzedAt, &m.Distance); err != nil {
			return nil, fmt.Errorf("%w: scanning: %v", ErrArchive, err)
		}
		if skinTone != nil {
			m.SkinTone = *skinTone
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return matches, nil
}

// Count returns the number of archived analyses.
func (a *Archive) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.pool.QueryRow(ctx, countQuery).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchive, err)
	}
	return n, nil
}

// Ping checks the connection.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close releases the connection pool.
func (a *Archive) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

type analysisRow struct {
	ID                string
	UserID            string
	Scene             string
	FaceCount         int
	OverallConfidence float64
	ImageQuality      float64
	DurationMS        int64
	AnalyzedAt        time.Time
	Result            []byte
}

func newAnalysisRow(userID string, res *glowly.AnalysisResult) (analysisRow, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return analysisRow{}, fmt.Errorf("%w: encoding result: %v", ErrArchive, err)
	}
	analyzedAt := res.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}
	return analysisRow{
		ID:                uuid.NewString(),
		UserID:            userID,
		Scene:             res.Scene.Label,
		FaceCount:         len(res.Faces),
		OverallConfidence: res.OverallConfidence,
		ImageQuality:      res.ImageQuality.Score,
		DurationMS:        res.ProcessingDuration.Milliseconds(),
		AnalyzedAt:        analyzedAt,
		Result:            data,
	}, nil
}

type faceRow struct {
	Index       int
	SkinTone    *string
	Quality     float64
	BeautyScore *float64
	Embedding   []float32
}

func newFaceRows(faces []glowly.FaceObservation) []faceRow {
	rows := make([]faceRow, 0, len(faces))
	for _, f := range faces {
		r := faceRow{
			Index:       f.Index,
			Quality:     f.Quality.Overall,
			BeautyScore: f.BeautyScore,
			Embedding:   FaceVector(f),
		}
		if f.SkinTone != nil {
			s := f.SkinTone.Category.String()
			r.SkinTone = &s
		}
		rows = append(rows, r)
	}
	return rows
}
