package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"go.uber.org/zap"
)

// runGraph answers from the LPG via synthesized Cypher. On a store
// rejection the query is repaired once; a second failure produces a
// structured failure response that still reports the attempted query.
func (o *Orchestrator) runGraph(ctx context.Context, req Request, docIDs []string, memCtx, mode string) (*Response, error) {
	if o.lpg == nil || o.lpgSchema == nil {
		return nil, fault.New(fault.ConfigurationError, "graph mode requires an LPG store")
	}
	schema, err := o.lpgSchema.GetSchema(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "introspecting graph schema")
	}

	cypher, err := o.cypherGen.Generate(ctx, req.Message, req.WorkspaceID, schema, docIDs)
	if err != nil {
		return nil, err
	}

	rows, runErr := o.lpg.RunCypher(ctx, cypher, nil)
	if runErr != nil {
		o.logger.Info("cypher rejected, attempting repair",
			zap.String("cypher", cypher), zap.Error(runErr))
		repaired, repErr := o.cypherGen.Repair(ctx, req.Message, req.WorkspaceID, cypher, runErr.Error(), schema)
		if repErr == nil {
			cypher = repaired
			rows, runErr = o.lpg.RunCypher(ctx, cypher, nil)
		}
		if runErr != nil {
			return &Response{
				Content:  "I generated a graph query for this question but the graph store rejected it, even after one repair attempt. The attempted query is included in the metadata.",
				Metadata: Metadata{SearchMode: mode, Cypher: cypher, QueryFailed: true},
			}, nil
		}
	}

	entities := entitiesFromRows(rows)
	resp := &Response{
		Sources:  Sources{GraphEntities: entities},
		Metadata: Metadata{SearchMode: mode, Cypher: cypher, ResultCount: len(rows)},
	}

	contextText := renderCypherRows(rows)
	if contextText == "" {
		contextText = "(the graph query returned no rows)"
	}
	content, err := o.answer(ctx, req, "KNOWLEDGE GRAPH CONTEXT:\n"+contextText, memCtx)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "answer generation")
	}
	resp.Content = content
	return resp, nil
}

// runGraphDB answers from the triplestore via synthesized SPARQL, with the
// same one-retry repair discipline as the Cypher path.
func (o *Orchestrator) runGraphDB(ctx context.Context, req Request, memCtx string) (*Response, error) {
	if o.fabric == nil {
		return nil, fault.New(fault.ConfigurationError, "graphdb mode requires a triplestore")
	}
	schema, err := o.fabric.IntrospectOntology(ctx, req.TenantID, req.WorkspaceID, req.Agent.KnowledgeGraphs)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "introspecting ontology")
	}
	samples, err := o.fabric.SampleData(ctx, req.TenantID, req.WorkspaceID, sparqlSampleLimit)
	if err != nil {
		o.logger.Debug("sample data unavailable for priming", zap.Error(err))
		samples = nil
	}

	sparql, err := o.sparqlGen.Generate(ctx, req.Message, schema, samples)
	if err != nil {
		return nil, err
	}

	res, runErr := o.fabric.QueryData(ctx, req.TenantID, req.WorkspaceID, sparql, nil)
	if runErr != nil {
		o.logger.Info("sparql rejected, attempting repair",
			zap.String("sparql", sparql), zap.Error(runErr))
		repaired, repErr := o.sparqlGen.Repair(ctx, req.Message, sparql, runErr.Error(), schema)
		if repErr == nil {
			sparql = repaired
			res, runErr = o.fabric.QueryData(ctx, req.TenantID, req.WorkspaceID, sparql, nil)
		}
		if runErr != nil {
			return &Response{
				Content:  "I generated a SPARQL query for this question but the triplestore rejected it, even after one repair attempt. The attempted query is included in the metadata.",
				Metadata: Metadata{SearchMode: ModeGraphDB, SPARQL: sparql, QueryFailed: true},
			}, nil
		}
	}

	relations := relationsFromBindings(res)
	resp := &Response{
		Sources:  Sources{Relations: relations},
		Metadata: Metadata{SearchMode: ModeGraphDB, SPARQL: sparql, ResultCount: resultRowCount(res)},
	}

	contextText := renderBindings(res)
	if contextText == "" {
		contextText = "(the query returned no results)"
	}
	content, err := o.answer(ctx, req, "KNOWLEDGE GRAPH CONTEXT:\n"+contextText, memCtx)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "answer generation")
	}
	resp.Content = content
	return resp, nil
}

// entitiesFromRows pulls display-name/label shaped columns out of cypher
// result rows. Rows that do not look like entities are skipped.
func entitiesFromRows(rows []lpg.Row) []GraphEntity {
	var out []GraphEntity
	seen := make(map[string]bool)
	for _, row := range rows {
		var e GraphEntity
		props := make(map[string]any)
		for i, col := range row.Columns {
			if i >= len(row.Values) {
				break
			}
			v := row.Values[i]
			switch strings.ToLower(col) {
			case "name", "display_name", "displayname":
				if s, ok := v.(string); ok {
					e.Name = s
				}
			case "class", "label", "labels":
				e.Class = stringifyValue(v)
			default:
				if v != nil {
					props[col] = v
				}
			}
		}
		if e.Name == "" || seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		if len(props) > 0 {
			e.Properties = props
		}
		out = append(out, e)
	}
	return out
}

func renderCypherRows(rows []lpg.Row) string {
	var b strings.Builder
	for _, row := range rows {
		var parts []string
		for i, col := range row.Columns {
			if i >= len(row.Values) {
				break
			}
			parts = append(parts, col+"="+stringifyValue(row.Values[i]))
		}
		b.WriteString(strings.Join(parts, ", ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		var parts []string
		for _, e := range t {
			parts = append(parts, stringifyValue(e))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// relationsFromBindings converts SPARQL rows into subject/predicate/object
// relations when the row shape allows it. Rows with fewer than three
// bound variables are ignored.
func relationsFromBindings(res *triple.Result) []Relation {
	if res == nil || len(res.Vars) < 3 {
		return nil
	}
	s, p, ob := res.Vars[0], res.Vars[1], res.Vars[2]
	var out []Relation
	for _, row := range res.Rows {
		r := Relation{
			Subject:   displayTerm(row[s]),
			Predicate: displayTerm(row[p]),
			Object:    displayTerm(row[ob]),
		}
		if r.Subject == "" || r.Predicate == "" || r.Object == "" {
			continue
		}
		out = append(out, r)
	}
	return dedupeRelations(out)
}

func renderBindings(res *triple.Result) string {
	if res == nil {
		return ""
	}
	if res.Boolean != nil {
		if *res.Boolean {
			return "yes"
		}
		return "no"
	}
	var b strings.Builder
	for _, row := range res.Rows {
		var parts []string
		for _, v := range res.Vars {
			if term, ok := row[v]; ok {
				parts = append(parts, v+"="+displayTerm(term))
			}
		}
		b.WriteString(strings.Join(parts, ", ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func resultRowCount(res *triple.Result) int {
	if res == nil {
		return 0
	}
	return len(res.Rows)
}

// displayTerm shortens IRIs to their local name for readability.
func displayTerm(t triple.Term) string {
	if !t.IsURI() {
		return t.Value
	}
	v := t.Value
	if i := strings.LastIndexAny(v, "#/"); i >= 0 && i < len(v)-1 {
		return v[i+1:]
	}
	return v
}
