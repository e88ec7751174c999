// Package audit diffs entity snapshots into ChangeEvents and writes them
// to the audit named graph as batched SPARQL INSERT DATA updates.
package audit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/purplefabric/graphrag/internal/fault"
	"go.uber.org/zap"
)

const (
	rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	pfNS    = "http://purplefabric.ai/ontology/"

	pfChangeEvent    = pfNS + "ChangeEvent"
	pfEntity         = pfNS + "entity"
	pfProperty       = pfNS + "property"
	pfChangeType     = pfNS + "changeType"
	pfChangedAt      = pfNS + "changedAt"
	pfSourceDocument = pfNS + "sourceDocument"
	pfPreviousValue  = pfNS + "previousValue"
	pfNewValue       = pfNS + "newValue"
)

// ChangeType is the kind of difference found for an (entity, predicate).
type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// TripleValue is one predicate/value pair in a snapshot. Objects compare
// by their string form regardless of RDF term kind.
type TripleValue struct {
	Predicate string
	Value     string
}

// Snapshot maps entity URIs to their triples.
type Snapshot map[string][]TripleValue

// ChangeEvent records one detected difference.
type ChangeEvent struct {
	EventURI       string
	Entity         string
	Property       string
	Type           ChangeType
	PreviousValue  string
	NewValue       string
	ChangedAt      time.Time
	SourceDocument string
}

// Updater is the write surface of the triplestore client.
type Updater interface {
	Update(ctx context.Context, update string) error
}

// Engine diffs snapshots and persists ChangeEvents.
type Engine struct {
	store         Updater
	auditGraphIRI string
	batchSize     int
	logger        *zap.Logger

	now func() time.Time
}

// NewEngine builds the engine. batchSize caps triples per INSERT DATA.
func NewEngine(store Updater, auditGraphIRI string, batchSize int, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:         store,
		auditGraphIRI: strings.TrimRight(auditGraphIRI, "/"),
		batchSize:     batchSize,
		logger:        logger.Named("audit"),
		now:           time.Now,
	}
}

// Diff compares the old and new snapshots per (entity, predicate) and
// returns one ChangeEvent for every difference. A predicate present only
// in new is an INSERT, only in old a DELETE, in both with a different
// value an UPDATE. Identical values produce nothing.
func (e *Engine) Diff(oldState, newState Snapshot, sourceDocument string) []ChangeEvent {
	now := e.now().UTC()
	var events []ChangeEvent

	for _, entity := range sortedEntities(oldState, newState) {
		oldVals := valuesByPredicate(oldState[entity])
		newVals := valuesByPredicate(newState[entity])

		for _, pred := range sortedPredicates(oldVals, newVals) {
			oldVal, hadOld := oldVals[pred]
			newVal, hasNew := newVals[pred]

			var ev ChangeEvent
			switch {
			case !hadOld && hasNew:
				ev = ChangeEvent{Type: Insert, NewValue: newVal}
			case hadOld && !hasNew:
				ev = ChangeEvent{Type: Delete, PreviousValue: oldVal}
			case oldVal != newVal:
				ev = ChangeEvent{Type: Update, PreviousValue: oldVal, NewValue: newVal}
			default:
				continue
			}
			ev.EventURI = fmt.Sprintf("%s/event/%s", e.auditGraphIRI, uuid.NewString())
			ev.Entity = entity
			ev.Property = pred
			ev.ChangedAt = now
			ev.SourceDocument = sourceDocument
			events = append(events, ev)
		}
	}
	return events
}

// Record diffs the snapshots and writes the resulting events.
func (e *Engine) Record(ctx context.Context, oldState, newState Snapshot, sourceDocument string) ([]ChangeEvent, error) {
	events := e.Diff(oldState, newState, sourceDocument)
	if len(events) == 0 {
		return nil, nil
	}
	if err := e.Write(ctx, events); err != nil {
		return nil, err
	}
	e.logger.Info("audit events recorded",
		zap.Int("events", len(events)),
		zap.String("source_document", sourceDocument))
	return events, nil
}

// Write serializes the events and sends them in INSERT DATA batches of at
// most batchSize triples.
func (e *Engine) Write(ctx context.Context, events []ChangeEvent) error {
	var triples []string
	for _, ev := range events {
		triples = append(triples, serializeEvent(ev)...)
	}
	for _, batch := range splitBatches(triples, e.batchSize) {
		update := fmt.Sprintf("INSERT DATA { GRAPH <%s> {\n%s\n} }", e.auditGraphIRI, strings.Join(batch, "\n"))
		if err := e.store.Update(ctx, update); err != nil {
			return fault.Wrap(fault.BackendUnavailable, err, "writing audit batch of %d triples", len(batch))
		}
	}
	return nil
}

// serializeEvent renders one ChangeEvent as N-Triples-style lines sharing
// the event URI. previousValue only for UPDATE/DELETE, newValue only for
// INSERT/UPDATE.
func serializeEvent(ev ChangeEvent) []string {
	lines := []string{
		fmt.Sprintf("<%s> <%s> <%s> .", ev.EventURI, rdfType, pfChangeEvent),
		fmt.Sprintf("<%s> <%s> <%s> .", ev.EventURI, pfEntity, ev.Entity),
		fmt.Sprintf("<%s> <%s> <%s> .", ev.EventURI, pfProperty, ev.Property),
		fmt.Sprintf("<%s> <%s> %s .", ev.EventURI, pfChangeType, literal(string(ev.Type))),
		fmt.Sprintf("<%s> <%s> %s .", ev.EventURI, pfChangedAt, dateTimeLiteral(ev.ChangedAt)),
		fmt.Sprintf("<%s> <%s> %s .", ev.EventURI, pfSourceDocument, literal(ev.SourceDocument)),
	}
	if ev.Type == Update || ev.Type == Delete {
		lines = append(lines, fmt.Sprintf("<%s> <%s> %s .", ev.EventURI, pfPreviousValue, literal(ev.PreviousValue)))
	}
	if ev.Type == Insert || ev.Type == Update {
		lines = append(lines, fmt.Sprintf("<%s> <%s> %s .", ev.EventURI, pfNewValue, literal(ev.NewValue)))
	}
	return lines
}

func splitBatches(triples []string, size int) [][]string {
	if size <= 0 {
		size = 10000
	}
	var batches [][]string
	for len(triples) > 0 {
		n := size
		if n > len(triples) {
			n = len(triples)
		}
		batches = append(batches, triples[:n])
		triples = triples[n:]
	}
	return batches
}

// valuesByPredicate folds a triple list into one comparable value per
// predicate. Multi-valued predicates compare as their sorted joined form.
func valuesByPredicate(triples []TripleValue) map[string]string {
	grouped := make(map[string][]string)
	for _, t := range triples {
		grouped[t.Predicate] = append(grouped[t.Predicate], t.Value)
	}
	out := make(map[string]string, len(grouped))
	for pred, vals := range grouped {
		sort.Strings(vals)
		out[pred] = strings.Join(vals, ", ")
	}
	return out
}

func sortedEntities(oldState, newState Snapshot) []string {
	seen := make(map[string]bool, len(oldState)+len(newState))
	var out []string
	for entity := range oldState {
		if !seen[entity] {
			seen[entity] = true
			out = append(out, entity)
		}
	}
	for entity := range newState {
		if !seen[entity] {
			seen[entity] = true
			out = append(out, entity)
		}
	}
	sort.Strings(out)
	return out
}

func sortedPredicates(oldVals, newVals map[string]string) []string {
	seen := make(map[string]bool, len(oldVals)+len(newVals))
	var out []string
	for pred := range oldVals {
		if !seen[pred] {
			seen[pred] = true
			out = append(out, pred)
		}
	}
	for pred := range newVals {
		if !seen[pred] {
			seen[pred] = true
			out = append(out, pred)
		}
	}
	sort.Strings(out)
	return out
}

func literal(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}

func dateTimeLiteral(t time.Time) string {
	return fmt.Sprintf(`"%s"^^<http://www.w3.org/2001/XMLSchema#dateTime>`, t.UTC().Format(time.RFC3339))
}
