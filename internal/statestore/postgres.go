// Package statestore persists workflow state in a single Postgres table keyed
// by the composite (pk, sk) layout the pipeline uses everywhere:
//
//	pk=DOC#{document_id}  sk=WF#{workflow_id}  workflow head
//	pk=WF#{workflow_id}   sk=STEP              aggregate step map
//	pk=WF#{workflow_id}   sk=SEG#{nnnn}        segment record
//
// Row payloads are jsonb, so the schema never changes when record shapes grow.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"docstream/internal/workflow"
)

// Postgres implements workflow.Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the store and ensures the schema exists.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflow_state (
			pk         text NOT NULL,
			sk         text NOT NULL,
			attrs      jsonb NOT NULL,
			updated_at timestamptz NOT NULL,
			PRIMARY KEY (pk, sk)
		)`)
	if err != nil {
		return fmt.Errorf("statestore schema: %w", err)
	}
	return nil
}

func docPK(documentID string) string { return "DOC#" + documentID }
func wfPK(workflowID string) string  { return "WF#" + workflowID }
func wfSK(workflowID string) string  { return "WF#" + workflowID }
func segSK(index int) string         { return fmt.Sprintf("SEG#%04d", index) }

const stepSK = "STEP"

func (p *Postgres) put(ctx context.Context, pk, sk string, v any) error {
	attrs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("statestore marshal %s/%s: %w", pk, sk, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflow_state (pk, sk, attrs, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs, updated_at = EXCLUDED.updated_at`,
		pk, sk, attrs, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("statestore put %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (p *Postgres) get(ctx context.Context, pk, sk string, v any) error {
	var attrs []byte
	err := p.pool.QueryRow(ctx,
		`SELECT attrs FROM workflow_state WHERE pk = $1 AND sk = $2`, pk, sk).Scan(&attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("statestore get %s/%s: %w", pk, sk, err)
	}
	return json.Unmarshal(attrs, v)
}

// CreateWorkflow writes the head row and stamps timestamps.
func (p *Postgres) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	now := time.Now().UTC()
	if wf.StartedAt.IsZero() {
		wf.StartedAt = now
	}
	wf.UpdatedAt = now
	return p.put(ctx, docPK(wf.DocumentID), wfSK(wf.WorkflowID), wf)
}

// GetWorkflow reads the head row.
func (p *Postgres) GetWorkflow(ctx context.Context, documentID, workflowID string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := p.get(ctx, docPK(documentID), wfSK(workflowID), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// ListWorkflows returns all workflow heads of a document.
func (p *Postgres) ListWorkflows(ctx context.Context, documentID string) ([]*workflow.Workflow, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT attrs FROM workflow_state WHERE pk = $1 AND sk LIKE 'WF#%' ORDER BY sk`,
		docPK(documentID))
	if err != nil {
		return nil, fmt.Errorf("statestore list workflows: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		var attrs []byte
		if err := rows.Scan(&attrs); err != nil {
			return nil, fmt.Errorf("statestore scan: %w", err)
		}
		var wf workflow.Workflow
		if err := json.Unmarshal(attrs, &wf); err != nil {
			return nil, fmt.Errorf("statestore unmarshal workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// UpdateWorkflowStatus patches status and error on the head row.
func (p *Postgres) UpdateWorkflowStatus(ctx context.Context, documentID, workflowID string, status workflow.Status, errMsg string) error {
	wf, err := p.GetWorkflow(ctx, documentID, workflowID)
	if err != nil {
		return err
	}
	wf.Status = status
	wf.Error = errMsg
	wf.UpdatedAt = time.Now().UTC()
	return p.put(ctx, docPK(documentID), wfSK(workflowID), wf)
}

// InitSteps writes the initial step map.
func (p *Postgres) InitSteps(ctx context.Context, workflowID string, steps map[string]workflow.Step) error {
	return p.put(ctx, wfPK(workflowID), stepSK, steps)
}

// GetSteps reads the step map; a missing row is an empty map.
func (p *Postgres) GetSteps(ctx context.Context, workflowID string) (map[string]workflow.Step, error) {
	steps := map[string]workflow.Step{}
	err := p.get(ctx, wfPK(workflowID), stepSK, &steps)
	if errors.Is(err, workflow.ErrNotFound) {
		return steps, nil
	}
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// TransitionStep applies one monotone step transition inside a transaction so
// concurrent writers cannot interleave illegal moves.
func (p *Postgres) TransitionStep(ctx context.Context, workflowID, stepName string, state workflow.StepState, errMsg string) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("statestore begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	steps := map[string]workflow.Step{}
	var attrs []byte
	err = tx.QueryRow(ctx,
		`SELECT attrs FROM workflow_state WHERE pk = $1 AND sk = $2 FOR UPDATE`,
		wfPK(workflowID), stepSK).Scan(&attrs)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// First transition for this workflow creates the map.
	case err != nil:
		return fmt.Errorf("statestore step lock: %w", err)
	default:
		if err := json.Unmarshal(attrs, &steps); err != nil {
			return fmt.Errorf("statestore unmarshal steps: %w", err)
		}
	}

	updated, err := applyTransition(steps, stepName, state, errMsg)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("statestore marshal steps: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_state (pk, sk, attrs, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs, updated_at = EXCLUDED.updated_at`,
		wfPK(workflowID), stepSK, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("statestore step write: %w", err)
	}
	return tx.Commit(ctx)
}

// applyTransition enforces the monotone rule and stamps times. Shared with the
// in-memory store.
func applyTransition(steps map[string]workflow.Step, stepName string, state workflow.StepState, errMsg string) (map[string]workflow.Step, error) {
	now := time.Now().UTC()
	step, exists := steps[stepName]
	if !exists {
		// New steps (per-segment analyzers/finalizers) start from an implicit
		// PENDING, so they enter via RUNNING, SKIPPED or FAILED.
		step = workflow.Step{State: workflow.StepPending}
	}
	if !workflow.CanTransition(step.State, state) {
		return nil, fmt.Errorf("%w: %s %s -> %s", workflow.ErrIllegalTransition, stepName, step.State, state)
	}
	if state == workflow.StepRunning {
		step.StartedAt = now
	}
	if state.Terminal() {
		step.EndedAt = now
	}
	step.State = state
	step.Error = errMsg
	steps[stepName] = step
	return steps, nil
}

// PutSegment writes one segment row under the workflow PK.
func (p *Postgres) PutSegment(ctx context.Context, seg *workflow.Segment) error {
	return p.put(ctx, wfPK(seg.WorkflowID), segSK(seg.SegmentIndex), seg)
}

// ListSegments returns the workflow's segments ordered by segment_index.
func (p *Postgres) ListSegments(ctx context.Context, workflowID string) ([]*workflow.Segment, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT attrs FROM workflow_state WHERE pk = $1 AND sk LIKE 'SEG#%' ORDER BY sk`,
		wfPK(workflowID))
	if err != nil {
		return nil, fmt.Errorf("statestore list segments: %w", err)
	}
	defer rows.Close()

	var out []*workflow.Segment
	for rows.Next() {
		var attrs []byte
		if err := rows.Scan(&attrs); err != nil {
			return nil, fmt.Errorf("statestore scan: %w", err)
		}
		var seg workflow.Segment
		if err := json.Unmarshal(attrs, &seg); err != nil {
			return nil, fmt.Errorf("statestore unmarshal segment: %w", err)
		}
		out = append(out, &seg)
	}
	return out, rows.Err()
}

// DeleteWorkflow removes the head row plus every row under PK=WF#{workflowID}.
func (p *Postgres) DeleteWorkflow(ctx context.Context, documentID, workflowID string) error {
	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM workflow_state WHERE pk = $1 AND sk = $2`, docPK(documentID), wfSK(workflowID))
	batch.Queue(`DELETE FROM workflow_state WHERE pk = $1`, wfPK(workflowID))
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < 2; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("statestore delete workflow: %w", err)
		}
	}
	return nil
}

var _ workflow.Store = (*Postgres)(nil)
