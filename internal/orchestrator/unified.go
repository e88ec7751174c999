package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/store/sqlfed"
	"github.com/purplefabric/graphrag/internal/store/vector"
	"go.uber.org/zap"
)

const plannerSystemPrompt = `You route a question to the data sources that can answer it.
Available sources:
  "vector"      - semantic search over document chunks
  "graph"       - the labeled property graph of extracted entities
  "triplestore" - the RDF knowledge graph
  "sql"         - federated SQL access to external databases
  "memory"      - long-term memories recalled for this user
Return a JSON object like {"sources": ["vector", "graph"]} and nothing else.
Pick only sources that plausibly help. Prefer fewer sources.`

const sqlGenSystemPrompt = `You write a single read-only SQL query (SELECT or WITH) against the schema below.
Return only the SQL, no explanation and no code fences.`

type plan struct {
	Sources []string `json:"sources"`
}

// runUnified asks the planner which sources apply, gathers context from
// each chosen source and answers once over the merged context. Every
// source is best-effort; the chat fails only when nothing was gathered
// and the answer call itself errors.
func (o *Orchestrator) runUnified(ctx context.Context, req Request, docIDs []string, memCtx string) (*Response, error) {
	sources := o.planSources(ctx, req, memCtx != "")

	resp := &Response{Metadata: Metadata{SearchMode: ModeUnified}}
	answerMem := memCtx
	var sections []string
	for _, src := range sources {
		switch src {
		case "vector":
			chunks, err := o.vector.SemanticSearch(ctx, req.Message, o.topK(req), vector.Filters{
				TenantID:    req.TenantID,
				WorkspaceID: req.WorkspaceID,
				DocumentIDs: docIDs,
			})
			if err != nil {
				o.logger.Warn("unified vector source failed", zap.Error(err))
				continue
			}
			resp.Sources.Chunks = chunks
			resp.Sources.Documents = uniqueDocuments(chunks)
			resp.Metadata.ResultCount += len(chunks)
			if text := renderChunkContext(chunks); text != "" {
				sections = append(sections, text)
			}
		case "graph":
			if o.lpg == nil {
				continue
			}
			entities, relations, _, err := o.conceptLookup(ctx, req, o.keyTerms(ctx, req.Message), docIDs)
			if err != nil {
				o.logger.Warn("unified graph source failed", zap.Error(err))
				continue
			}
			resp.Sources.GraphEntities = entities
			resp.Sources.Relations = append(resp.Sources.Relations, relations...)
			if len(relations) > 0 {
				sections = append(sections, "KEY RELATIONSHIPS:\n"+renderRelations(relations))
			}
		case "triplestore":
			if o.fabric == nil {
				continue
			}
			dbResp, err := o.runGraphDB(ctx, req, "")
			if err != nil || dbResp.Metadata.QueryFailed {
				o.logger.Warn("unified triplestore source failed", zap.Error(err))
				continue
			}
			resp.Sources.Relations = append(resp.Sources.Relations, dbResp.Sources.Relations...)
			resp.Metadata.SPARQL = dbResp.Metadata.SPARQL
			resp.Metadata.ResultCount += dbResp.Metadata.ResultCount
			if len(dbResp.Sources.Relations) > 0 {
				sections = append(sections, "KNOWLEDGE GRAPH CONTEXT:\n"+renderRelations(dbResp.Sources.Relations))
			}
		case "sql":
			text, err := o.sqlContext(ctx, req)
			if err != nil {
				o.logger.Warn("unified sql source failed", zap.Error(err))
				continue
			}
			if text != "" {
				sections = append(sections, "DATABASE RESULTS:\n"+text)
			}
		case "memory":
			// The recalled memories move into the merged context so the
			// answer call does not see them twice.
			sections = append(sections, "WHAT YOU REMEMBER ABOUT THIS USER:\n"+memCtx)
			answerMem = ""
		default:
			o.logger.Debug("planner named unknown source", zap.String("source", src))
		}
	}

	resp.Sources.Relations = dedupeRelations(resp.Sources.Relations)

	contextText := strings.Join(sections, "\n\n")
	if contextText == "" {
		contextText = "(no data source produced relevant context)"
	}
	content, err := o.answer(ctx, req, contextText, answerMem)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "answer generation")
	}
	resp.Content = content
	return resp, nil
}

// planSources asks the model where to look and falls back to vector-only
// when the plan cannot be parsed.
func (o *Orchestrator) planSources(ctx context.Context, req Request, hasMemory bool) []string {
	available := []string{"vector"}
	if o.lpg != nil {
		available = append(available, "graph")
	}
	if o.fabric != nil {
		available = append(available, "triplestore")
	}
	if o.sql != nil && len(req.Agent.VKGDatabases) > 0 {
		available = append(available, "sql")
	}
	if hasMemory {
		available = append(available, "memory")
	}

	raw, err := o.chat.Complete(ctx, plannerSystemPrompt, req.Message)
	if err != nil {
		o.logger.Warn("source planning failed, defaulting to vector", zap.Error(err))
		return []string{"vector"}
	}
	var p plan
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start || json.Unmarshal([]byte(raw[start:end+1]), &p) != nil || len(p.Sources) == 0 {
		return []string{"vector"}
	}

	allowed := make(map[string]bool, len(available))
	for _, s := range available {
		allowed[s] = true
	}
	var out []string
	for _, s := range p.Sources {
		s = strings.ToLower(strings.TrimSpace(s))
		if allowed[s] {
			out = append(out, s)
			allowed[s] = false
		}
	}
	if len(out) == 0 {
		return []string{"vector"}
	}
	return out
}

// sqlContext generates and runs one read-only query against the first
// database on the agent's allow-list.
func (o *Orchestrator) sqlContext(ctx context.Context, req Request) (string, error) {
	if o.sql == nil || len(req.Agent.VKGDatabases) == 0 {
		return "", nil
	}
	catalog, schema := req.Agent.VKGDatabases[0], ""
	if o.vkg != nil {
		var err error
		catalog, schema, err = o.vkg.Resolve(ctx, req.Agent.VKGDatabases[0])
		if err != nil {
			return "", err
		}
	}
	tables, err := o.sql.IntrospectSchema(ctx, catalog, schema)
	if err != nil {
		return "", fault.Wrap(fault.BackendUnavailable, err, "introspecting sql schema")
	}
	if len(tables) == 0 {
		return "", nil
	}

	prompt := "Schema:\n" + renderSQLSchema(tables) + "\n\nQuestion: " + req.Message
	sqlText, err := o.chat.Complete(ctx, sqlGenSystemPrompt, prompt)
	if err != nil {
		return "", fault.Wrap(fault.QueryGenerationFailed, err, "generating sql")
	}
	sqlText = strings.TrimSpace(strings.Trim(strings.TrimSpace(sqlText), "`"))

	result, err := o.sql.ExecuteSQL(ctx, sqlText, catalog, schema)
	if err != nil {
		return "", fault.Wrap(fault.QueryExecutionFailed, err, "executing federated sql")
	}
	return renderResultSet(result), nil
}

func renderSQLSchema(tables []sqlfed.Table) string {
	var b strings.Builder
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = c.Name + " " + c.DataType
		}
		fmt.Fprintf(&b, "%s(%s)\n", t.Name, strings.Join(cols, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderResultSet(rs *sqlfed.ResultSet) string {
	if rs == nil || len(rs.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(rs.Columns, " | ") + "\n")
	for _, row := range rs.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = stringifyValue(v)
		}
		b.WriteString(strings.Join(parts, " | ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
