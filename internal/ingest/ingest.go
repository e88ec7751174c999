// Package ingest loads Turtle documents into workspace data graphs and
// records per-entity change events through the audit engine.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/purplefabric/graphrag/internal/audit"
	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/triple"
)

const sourceDocumentPredicate = "http://purplefabric.ai/ontology/sourceDocument"

// TripleStore is the triplestore surface the importer needs.
type TripleStore interface {
	Query(ctx context.Context, query string) (*triple.Result, error)
	Update(ctx context.Context, update string) error
	ImportTurtle(ctx context.Context, graphIRI, turtle string) error
	CountTriplesInGraph(ctx context.Context, graphIRI string) (int64, error)
}

// Importer runs the snapshot-import-snapshot-diff cycle for a document.
type Importer struct {
	store          TripleStore
	batchSize      int
	skipPredicates map[string]bool
	logger         *zap.Logger
}

// NewImporter builds an importer. skipPredicates are excluded from the
// entity snapshots so bookkeeping predicates never produce change events.
func NewImporter(store TripleStore, batchSize int, skipPredicates []string, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]bool, len(skipPredicates))
	for _, p := range skipPredicates {
		skip[p] = true
	}
	return &Importer{
		store:          store,
		batchSize:      batchSize,
		skipPredicates: skip,
		logger:         logger.Named("ingest"),
	}
}

// Result summarizes one document import.
type Result struct {
	GraphIRI    string `json:"graphIri"`
	ChangeCount int    `json:"changeCount"`
	GraphSize   int64  `json:"graphSize"`
}

// ImportDocument snapshots the document's entities, loads the Turtle
// payload into the workspace data graph, snapshots again and records the
// diff in the workspace audit graph. The import itself is not rolled back
// when audit recording fails; the error is surfaced so callers can retry.
func (i *Importer) ImportDocument(ctx context.Context, tenant, workspace, documentID, turtle string) (*Result, error) {
	if documentID == "" {
		return nil, fault.New(fault.ValidationFailed, "document id is required")
	}
	if strings.TrimSpace(turtle) == "" {
		return nil, fault.New(fault.ValidationFailed, "turtle payload is empty")
	}
	dataGraph, err := fabric.DataGraphIRI(tenant, workspace)
	if err != nil {
		return nil, err
	}
	auditGraph, err := fabric.AuditGraphIRI(tenant, workspace)
	if err != nil {
		return nil, err
	}

	before, err := i.snapshot(ctx, dataGraph, documentID)
	if err != nil {
		return nil, err
	}
	if err := i.store.ImportTurtle(ctx, dataGraph, turtle); err != nil {
		return nil, err
	}
	after, err := i.snapshot(ctx, dataGraph, documentID)
	if err != nil {
		return nil, err
	}

	engine := audit.NewEngine(i.store, auditGraph, i.batchSize, i.logger)
	events, err := engine.Record(ctx, before, after, documentID)
	if err != nil {
		return nil, err
	}

	size, err := i.store.CountTriplesInGraph(ctx, dataGraph)
	if err != nil {
		i.logger.Warn("counting graph triples failed", zap.String("graph", dataGraph), zap.Error(err))
		size = -1
	}

	i.logger.Info("document imported",
		zap.String("tenant", tenant),
		zap.String("workspace", workspace),
		zap.String("document_id", documentID),
		zap.Int("changes", len(events)))
	return &Result{GraphIRI: dataGraph, ChangeCount: len(events), GraphSize: size}, nil
}

// snapshot collects every triple of entities carrying the document's
// sourceDocument marker, keyed by entity URI.
func (i *Importer) snapshot(ctx context.Context, graphIRI, documentID string) (audit.Snapshot, error) {
	query := fmt.Sprintf(
		"SELECT ?s ?p ?o WHERE { GRAPH <%s> { ?s <%s> %s . ?s ?p ?o } }",
		graphIRI, sourceDocumentPredicate, sparqlString(documentID))
	result, err := i.store.Query(ctx, query)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "snapshotting document %s", documentID)
	}

	snap := make(audit.Snapshot)
	for _, row := range result.Rows {
		s, okS := row["s"]
		p, okP := row["p"]
		o, okO := row["o"]
		if !okS || !okP || !okO {
			continue
		}
		if i.skipPredicates[p.Value] {
			continue
		}
		snap[s.Value] = append(snap[s.Value], audit.TripleValue{
			Predicate: p.Value,
			Value:     o.Value,
		})
	}
	return snap, nil
}

func sparqlString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`)
	return `"` + r.Replace(s) + `"`
}
