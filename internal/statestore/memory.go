package statestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"docstream/internal/workflow"
)

// Memory implements workflow.Store with maps, mirroring the Postgres row
// layout so tests exercise the same key semantics.
type Memory struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow          // key: documentID/workflowID
	steps     map[string]map[string]workflow.Step    // key: workflowID
	segments  map[string]map[int]*workflow.Segment   // key: workflowID
	docIndex  map[string][]string                    // documentID -> workflowIDs
}

// NewMemory creates an empty in-memory state store.
func NewMemory() *Memory {
	return &Memory{
		workflows: make(map[string]*workflow.Workflow),
		steps:     make(map[string]map[string]workflow.Step),
		segments:  make(map[string]map[int]*workflow.Segment),
		docIndex:  make(map[string][]string),
	}
}

func headKey(documentID, workflowID string) string { return documentID + "/" + workflowID }

// CreateWorkflow writes the head record.
func (m *Memory) CreateWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	cp := *wf
	if cp.StartedAt.IsZero() {
		cp.StartedAt = now
	}
	cp.UpdatedAt = now
	key := headKey(wf.DocumentID, wf.WorkflowID)
	if _, exists := m.workflows[key]; !exists {
		m.docIndex[wf.DocumentID] = append(m.docIndex[wf.DocumentID], wf.WorkflowID)
	}
	m.workflows[key] = &cp
	return nil
}

// GetWorkflow reads the head record.
func (m *Memory) GetWorkflow(ctx context.Context, documentID, workflowID string) (*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[headKey(documentID, workflowID)]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	cp := *wf
	return &cp, nil
}

// ListWorkflows returns all workflow heads for a document.
func (m *Memory) ListWorkflows(ctx context.Context, documentID string) ([]*workflow.Workflow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Workflow
	for _, id := range m.docIndex[documentID] {
		if wf, ok := m.workflows[headKey(documentID, id)]; ok {
			cp := *wf
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpdateWorkflowStatus patches status and error.
func (m *Memory) UpdateWorkflowStatus(ctx context.Context, documentID, workflowID string, status workflow.Status, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[headKey(documentID, workflowID)]
	if !ok {
		return workflow.ErrNotFound
	}
	wf.Status = status
	wf.Error = errMsg
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// InitSteps writes the initial step map.
func (m *Memory) InitSteps(ctx context.Context, workflowID string, steps map[string]workflow.Step) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]workflow.Step, len(steps))
	for k, v := range steps {
		cp[k] = v
	}
	m.steps[workflowID] = cp
	return nil
}

// GetSteps returns a copy of the step map.
func (m *Memory) GetSteps(ctx context.Context, workflowID string) (map[string]workflow.Step, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]workflow.Step, len(m.steps[workflowID]))
	for k, v := range m.steps[workflowID] {
		cp[k] = v
	}
	return cp, nil
}

// TransitionStep applies one monotone transition.
func (m *Memory) TransitionStep(ctx context.Context, workflowID, stepName string, state workflow.StepState, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	steps := m.steps[workflowID]
	if steps == nil {
		steps = map[string]workflow.Step{}
	}
	updated, err := applyTransition(steps, stepName, state, errMsg)
	if err != nil {
		return err
	}
	m.steps[workflowID] = updated
	return nil
}

// PutSegment writes one segment record.
func (m *Memory) PutSegment(ctx context.Context, seg *workflow.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.segments[seg.WorkflowID] == nil {
		m.segments[seg.WorkflowID] = make(map[int]*workflow.Segment)
	}
	cp := *seg
	m.segments[seg.WorkflowID][seg.SegmentIndex] = &cp
	return nil
}

// ListSegments returns segments ordered by segment_index.
func (m *Memory) ListSegments(ctx context.Context, workflowID string) ([]*workflow.Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*workflow.Segment
	for _, seg := range m.segments[workflowID] {
		cp := *seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

// DeleteWorkflow removes the head and every row under the workflow.
func (m *Memory) DeleteWorkflow(ctx context.Context, documentID, workflowID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workflows, headKey(documentID, workflowID))
	delete(m.steps, workflowID)
	delete(m.segments, workflowID)
	ids := m.docIndex[documentID]
	for i, id := range ids {
		if id == workflowID {
			m.docIndex[documentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

var _ workflow.Store = (*Memory)(nil)
