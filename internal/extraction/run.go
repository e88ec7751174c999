// Package extraction implements the document-to-graph pipeline: chunking,
// classification, LLM extraction, ontology validation, deterministic
// resolution, the confidence gate and the idempotent graph writer.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/purplefabric/graphrag/internal/store/kv"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("extraction run not found")

// State is one stage of the linear pipeline.
type State string

const (
	StatePending     State = "PENDING"
	StateChunking    State = "CHUNKING"
	StateClassifying State = "CLASSIFYING"
	StateExtracting  State = "EXTRACTING"
	StateValidating  State = "VALIDATING"
	StateResolving   State = "RESOLVING"
	StateWriting     State = "WRITING"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Run is the persisted record of one extraction, updated at every state
// transition.
type Run struct {
	RunID       string `json:"runId"`
	TenantID    string `json:"tenantId"`
	WorkspaceID string `json:"workspaceId"`

	DocumentID      string `json:"documentId"`
	DocumentName    string `json:"documentName,omitempty"`
	OntologyVersion string `json:"ontologyVersion"`
	Profile         string `json:"profile,omitempty"`

	State  State                 `json:"state"`
	Errors []string              `json:"errors,omitempty"`
	Stats  graphevent.BatchStats `json:"stats"`

	BatchID   string    `json:"batchId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const eventRetention = 30 * 24 * time.Hour

func runKey(id string) string            { return "extraction:run:" + id }
func runsKey(tenant string) string       { return "extraction:runs:" + tenant }
func quarantineKey(tenant string) string { return "extraction:quarantine:" + tenant }
func eventsKey(batchID string) string    { return "extraction:events:" + batchID }

// RunStore persists run records, quarantine lists and event batches.
type RunStore struct {
	kv *kv.Store
}

// NewRunStore wraps the KV adapter.
func NewRunStore(store *kv.Store) *RunStore {
	return &RunStore{kv: store}
}

// NewRun creates a PENDING run and indexes it for the tenant.
func (r *RunStore) NewRun(ctx context.Context, tenant, workspace, documentID, ontologyVersion, profile string) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		RunID:           uuid.NewString(),
		TenantID:        tenant,
		WorkspaceID:     workspace,
		DocumentID:      documentID,
		OntologyVersion: ontologyVersion,
		Profile:         profile,
		State:           StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := r.kv.SetJSON(ctx, runKey(run.RunID), run, 0); err != nil {
		return nil, err
	}
	if err := r.kv.ZAdd(ctx, runsKey(tenant), float64(now.Unix()), run.RunID); err != nil {
		return nil, err
	}
	return run, nil
}

// Get loads a run record.
func (r *RunStore) Get(ctx context.Context, runID string) (*Run, error) {
	var run Run
	err := r.kv.GetJSON(ctx, runKey(runID), &run)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List returns the tenant's run ids, newest first.
func (r *RunStore) List(ctx context.Context, tenant string) ([]string, error) {
	return r.kv.ZRevRange(ctx, runsKey(tenant), 0, -1)
}

// Transition persists a state change. A FAILED transition records the
// accumulated error messages.
func (r *RunStore) Transition(ctx context.Context, run *Run, state State, errs ...string) error {
	run.State = state
	run.Errors = append(run.Errors, errs...)
	run.UpdatedAt = time.Now().UTC()
	return r.kv.SetJSON(ctx, runKey(run.RunID), run, 0)
}

// PushQuarantine appends quarantine records to the tenant's review list.
func (r *RunStore) PushQuarantine(ctx context.Context, tenant string, records []graphevent.QuarantineRecord) error {
	if len(records) == 0 {
		return nil
	}
	values := make([]string, 0, len(records))
	for _, rec := range records {
		encoded, err := encodeJSON(rec)
		if err != nil {
			return err
		}
		values = append(values, encoded)
	}
	return r.kv.RPush(ctx, quarantineKey(tenant), values...)
}

// Quarantined returns up to limit pending quarantine records.
func (r *RunStore) Quarantined(ctx context.Context, tenant string, limit int64) ([]graphevent.QuarantineRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.kv.LRange(ctx, quarantineKey(tenant), 0, limit-1)
	if err != nil {
		return nil, err
	}
	out := make([]graphevent.QuarantineRecord, 0, len(raw))
	for _, item := range raw {
		var rec graphevent.QuarantineRecord
		if err := decodeJSON(item, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// SaveEvents persists the full event batch for audit with a 30-day TTL.
func (r *RunStore) SaveEvents(ctx context.Context, batch *graphevent.Batch) error {
	return r.kv.SetJSON(ctx, eventsKey(batch.BatchID), batch, eventRetention)
}

// Events loads a persisted event batch, if still retained.
func (r *RunStore) Events(ctx context.Context, batchID string) (*graphevent.Batch, error) {
	var batch graphevent.Batch
	if err := r.kv.GetJSON(ctx, eventsKey(batchID), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeJSON(s string, dest any) error {
	return json.Unmarshal([]byte(s), dest)
}
