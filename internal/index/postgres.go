package index

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"docstream/internal/keywords"
)

// Embedder produces fixed-dimension vectors for search queries. Batch inputs
// never fail as a whole; failed entries come back as zero vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Postgres implements Store over one table carrying both indices: an HNSW
// index on the pgvector column and a GIN index on the generated tsvector over
// keywords.
type Postgres struct {
	pool     *pgxpool.Pool
	embedder Embedder
}

// NewPostgres creates the store and ensures the schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, embedder Embedder) (*Postgres, error) {
	p := &Postgres{pool: pool, embedder: embedder}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS index_records (
			document_id      text NOT NULL,
			segment_id       text NOT NULL,
			segment_index    int  NOT NULL,
			workflow_id      text NOT NULL,
			status           text NOT NULL,
			content          text NOT NULL,
			content_combined text NOT NULL,
			keywords         text NOT NULL,
			keywords_tsv     tsvector GENERATED ALWAYS AS (to_tsvector('simple', keywords)) STORED,
			tools_json       text NOT NULL,
			file_uri         text NOT NULL,
			file_type        text NOT NULL,
			image_uri        text,
			embedding        vector(%d) NOT NULL,
			zero_vector      boolean NOT NULL DEFAULT false,
			created_at       timestamptz NOT NULL,
			updated_at       timestamptz NOT NULL,
			PRIMARY KEY (document_id, segment_id)
		)`, p.embedder.Dimensions()),
		`CREATE INDEX IF NOT EXISTS index_records_workflow_idx ON index_records (workflow_id)`,
		`CREATE INDEX IF NOT EXISTS index_records_tsv_idx ON index_records USING gin (keywords_tsv)`,
		`CREATE INDEX IF NOT EXISTS index_records_embedding_idx ON index_records USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("index schema: %w", err)
		}
	}
	return nil
}

// Upsert adds or replaces by (document_id, segment_id).
func (p *Postgres) Upsert(ctx context.Context, rec *Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO index_records
			(document_id, segment_id, segment_index, workflow_id, status, content,
			 content_combined, keywords, tools_json, file_uri, file_type, image_uri,
			 embedding, zero_vector, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (document_id, segment_id) DO UPDATE SET
			segment_index = EXCLUDED.segment_index,
			workflow_id = EXCLUDED.workflow_id,
			status = EXCLUDED.status,
			content = EXCLUDED.content,
			content_combined = EXCLUDED.content_combined,
			keywords = EXCLUDED.keywords,
			tools_json = EXCLUDED.tools_json,
			file_uri = EXCLUDED.file_uri,
			file_type = EXCLUDED.file_type,
			image_uri = EXCLUDED.image_uri,
			embedding = EXCLUDED.embedding,
			zero_vector = EXCLUDED.zero_vector,
			updated_at = EXCLUDED.updated_at`,
		rec.DocumentID, rec.SegmentID, rec.SegmentIndex, rec.WorkflowID, rec.Status,
		rec.Content, rec.ContentCombined, rec.Keywords, rec.ToolsJSON, rec.FileURI,
		rec.FileType, nullable(rec.ImageURI), pgvector.NewVector(rec.Vector),
		rec.ZeroVector, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("index upsert %s/%s: %w", rec.DocumentID, rec.SegmentID, err)
	}
	return nil
}

// UpdateStatus patches the status column.
func (p *Postgres) UpdateStatus(ctx context.Context, documentID, segmentID, status string) error {
	var err error
	now := time.Now().UTC()
	if segmentID == "" {
		_, err = p.pool.Exec(ctx,
			`UPDATE index_records SET status = $1, updated_at = $2 WHERE document_id = $3`,
			status, now, documentID)
	} else {
		_, err = p.pool.Exec(ctx,
			`UPDATE index_records SET status = $1, updated_at = $2 WHERE document_id = $3 AND segment_id = $4`,
			status, now, documentID, segmentID)
	}
	if err != nil {
		return fmt.Errorf("index update status: %w", err)
	}
	return nil
}

// GetSegments returns all records of a document ordered by segment_index.
func (p *Postgres) GetSegments(ctx context.Context, documentID string) ([]*Record, error) {
	rows, err := p.pool.Query(ctx, selectCols+`
		FROM index_records WHERE document_id = $1 ORDER BY segment_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("index get segments: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Search embeds the query for the vector leg, extracts keywords for the FTS
// leg, runs both capped at limit, and merges with the fixed algorithm.
func (p *Postgres) Search(ctx context.Context, query string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}

	vecs, err := p.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("index search embed: %w", err)
	}

	rows, err := p.pool.Query(ctx, selectCols+`
		FROM index_records ORDER BY embedding <=> $1 LIMIT $2`,
		pgvector.NewVector(vecs[0]), limit)
	if err != nil {
		return nil, fmt.Errorf("index vector search: %w", err)
	}
	vectorHits, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	var ftsHits []*Record
	if kw := keywords.Extract(query); kw != "" {
		rows, err := p.pool.Query(ctx, selectCols+`
			FROM index_records
			WHERE keywords_tsv @@ plainto_tsquery('simple', $1)
			ORDER BY ts_rank_cd(keywords_tsv, plainto_tsquery('simple', $1)) DESC
			LIMIT $2`, kw, limit)
		if err != nil {
			return nil, fmt.Errorf("index fts search: %w", err)
		}
		ftsHits, err = scanRecords(rows)
		if err != nil {
			return nil, err
		}
	}

	return MergeResults(vectorHits, ftsHits, limit), nil
}

// DeleteByWorkflow removes every record owned by the workflow.
func (p *Postgres) DeleteByWorkflow(ctx context.Context, workflowID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM index_records WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("index delete workflow %s: %w", workflowID, err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)

const selectCols = `
	SELECT document_id, segment_id, segment_index, workflow_id, status, content,
	       content_combined, keywords, tools_json, file_uri, file_type,
	       COALESCE(image_uri, ''), embedding, zero_vector, created_at, updated_at`

func scanRecords(rows pgx.Rows) ([]*Record, error) {
	var out []*Record
	for rows.Next() {
		var rec Record
		var vec pgvector.Vector
		if err := rows.Scan(
			&rec.DocumentID, &rec.SegmentID, &rec.SegmentIndex, &rec.WorkflowID,
			&rec.Status, &rec.Content, &rec.ContentCombined, &rec.Keywords,
			&rec.ToolsJSON, &rec.FileURI, &rec.FileType, &rec.ImageURI,
			&vec, &rec.ZeroVector, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("index scan: %w", err)
		}
		rec.Vector = vec.Slice()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index rows: %w", err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
