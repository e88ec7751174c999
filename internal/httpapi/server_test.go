package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/purplefabric/graphrag/internal/agent"
	"github.com/purplefabric/graphrag/internal/extraction"
	"github.com/purplefabric/graphrag/internal/ingest"
	"github.com/purplefabric/graphrag/internal/memory"
	"github.com/purplefabric/graphrag/internal/orchestrator"
	"github.com/purplefabric/graphrag/internal/store/kv"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChatter struct {
	resp *orchestrator.Response
	err  error
	last orchestrator.Request
}

func (f *fakeChatter) Chat(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	f.last = req
	return f.resp, f.err
}

type fakeMemoryStore struct {
	memories map[string]*memory.Memory
	recalled []memory.Recalled
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{memories: make(map[string]*memory.Memory)}
}

func (f *fakeMemoryStore) AddMemory(_ context.Context, agentID, user string, in memory.AddInput) (*memory.Memory, error) {
	m := &memory.Memory{
		MemoryID: "m-" + in.Content,
		AgentID:  agentID,
		UserID:   user,
		Type:     in.Type,
		Pool:     memory.PoolFor(in.Type),
		Content:  in.Content,
		Status:   memory.StatusActive,
	}
	f.memories[m.MemoryID] = m
	return m, nil
}

func (f *fakeMemoryStore) SearchMemories(context.Context, string, string, string, int) ([]memory.Recalled, error) {
	return f.recalled, nil
}

func (f *fakeMemoryStore) GetMemory(_ context.Context, _, _, id string) (*memory.Memory, error) {
	m, ok := f.memories[id]
	if !ok {
		return nil, memory.ErrMemoryNotFound
	}
	return m, nil
}

func (f *fakeMemoryStore) DeleteMemory(_ context.Context, _, _, id string) error {
	if _, ok := f.memories[id]; !ok {
		return memory.ErrMemoryNotFound
	}
	delete(f.memories, id)
	return nil
}

type fakeSPARQL struct {
	result *triple.Result
	err    error
	last   string
}

func (f *fakeSPARQL) QueryData(_ context.Context, _, _, query string, _ []string) (*triple.Result, error) {
	f.last = query
	return f.result, f.err
}

type fakeRunner struct {
	last extraction.Request
	done chan struct{}
}

func (f *fakeRunner) Execute(_ context.Context, req extraction.Request) (*extraction.Run, error) {
	f.last = req
	if f.done != nil {
		close(f.done)
	}
	return nil, nil
}

type fakeImporter struct {
	res      *ingest.Result
	err      error
	lastDoc  string
	lastData string
}

func (f *fakeImporter) ImportDocument(_ context.Context, _, _, documentID, turtle string) (*ingest.Result, error) {
	f.lastDoc = documentID
	f.lastData = turtle
	return f.res, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) CheckConnection(context.Context) error { return f.err }

func newTestServer(t *testing.T, deps Deps) (*Server, *kv.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if deps.Agents == nil {
		deps.Agents = agent.NewService(store, nil, zap.NewNop())
	}
	if deps.Runs == nil {
		deps.Runs = extraction.NewRunStore(store)
	}
	s, err := NewServer(deps, zap.NewNop(), Config{Host: "localhost", Port: 0})
	require.NoError(t, err)
	return s, store
}

func doJSON(s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func tenantHeaders() map[string]string {
	return map[string]string{
		HeaderTenantID:    "t1",
		HeaderWorkspaceID: "ws1",
		HeaderUserID:      "u1",
	}
}

func TestIdentityHeadersRequired(t *testing.T) {
	s, _ := newTestServer(t, Deps{Chat: &fakeChatter{}})

	rec := doJSON(s, http.MethodPost, "/agents/a1/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var payload errorPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "configuration_error", payload.Kind)
}

func TestAgentCRUD(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	h := tenantHeaders()

	rec := doJSON(s, http.MethodPost, "/agents", `{"agentId":"a1","name":"Contracts"}`, h)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(s, http.MethodGet, "/agents/a1", "", h)
	require.Equal(t, http.StatusOK, rec.Code)
	var a agent.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, "Contracts", a.Name)
	assert.Equal(t, "t1", a.TenantID)

	rec = doJSON(s, http.MethodPut, "/agents/a1", `{"name":"Contracts v2"}`, h)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodGet, "/agents", "", h)
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []agent.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "Contracts v2", agents[0].Name)

	rec = doJSON(s, http.MethodDelete, "/agents/a1", "", h)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(s, http.MethodGet, "/agents/a1", "", h)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatEndpoint(t *testing.T) {
	chatter := &fakeChatter{resp: &orchestrator.Response{
		Content:  "Acme signed the MSA.",
		Metadata: orchestrator.Metadata{SearchMode: "hybrid", ResultCount: 3},
	}}
	s, _ := newTestServer(t, Deps{Chat: chatter})
	h := tenantHeaders()

	rec := doJSON(s, http.MethodPost, "/agents", `{"agentId":"a1","name":"Contracts"}`, h)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(s, http.MethodPost, "/agents/a1/chat",
		`{"message":"what did acme sign?","sessionId":"sess-1","mode":"hybrid"}`, h)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Acme signed the MSA.", resp.Content)
	assert.Equal(t, "hybrid", resp.Metadata.SearchMode)

	assert.Equal(t, "t1", chatter.last.TenantID)
	assert.Equal(t, "u1", chatter.last.UserID)
	assert.Equal(t, "a1", chatter.last.Agent.AgentID)
	assert.Equal(t, "sess-1", chatter.last.SessionID)
}

func TestChatUnknownAgent(t *testing.T) {
	s, _ := newTestServer(t, Deps{Chat: &fakeChatter{resp: &orchestrator.Response{}}})
	rec := doJSON(s, http.MethodPost, "/agents/missing/chat", `{"message":"hi"}`, tenantHeaders())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMemoryEndpoints(t *testing.T) {
	mem := newFakeMemoryStore()
	s, _ := newTestServer(t, Deps{Memory: mem})
	h := tenantHeaders()

	rec := doJSON(s, http.MethodPost, "/agents/a1/memories", `{"type":"preference","content":"prefers EUR","importance":0.7}`, h)
	require.Equal(t, http.StatusCreated, rec.Code)
	var m memory.Memory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, memory.PoolUser, m.Pool)

	rec = doJSON(s, http.MethodGet, "/agents/a1/memories/"+url.PathEscape(m.MemoryID), "", h)
	assert.Equal(t, http.StatusOK, rec.Code)

	mem.recalled = []memory.Recalled{{Memory: *mem.memories[m.MemoryID], Similarity: 0.92}}
	rec = doJSON(s, http.MethodGet, "/agents/a1/memories/search?q=currency", "", h)
	require.Equal(t, http.StatusOK, rec.Code)
	var recalled []memory.Recalled
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recalled))
	require.Len(t, recalled, 1)
	assert.InDelta(t, 0.92, recalled[0].Similarity, 1e-9)

	// Search without a query is a client error.
	rec = doJSON(s, http.MethodGet, "/agents/a1/memories/search", "", h)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(s, http.MethodDelete, "/agents/a1/memories/"+url.PathEscape(m.MemoryID), "", h)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(s, http.MethodGet, "/agents/a1/memories/"+url.PathEscape(m.MemoryID), "", h)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSPARQLQueryEndpoint(t *testing.T) {
	exec := &fakeSPARQL{result: &triple.Result{Vars: []string{"s"}}}
	s, _ := newTestServer(t, Deps{SPARQL: exec})

	rec := doJSON(s, http.MethodPost, "/sparql/query",
		`{"query":"SELECT ?s WHERE { ?s ?p ?o } LIMIT 5","tenantId":"t1","workspaceId":"ws1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, exec.last, "SELECT ?s")

	// Update forms never reach the executor.
	exec.last = ""
	rec = doJSON(s, http.MethodPost, "/sparql/query",
		`{"query":"DELETE WHERE { ?s ?p ?o }","tenantId":"t1","workspaceId":"ws1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, exec.last)

	rec = doJSON(s, http.MethodPost, "/sparql/query", `{"query":"SELECT ?s WHERE { ?s ?p ?o }"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExtractionEndpoints(t *testing.T) {
	runner := &fakeRunner{done: make(chan struct{})}
	s, _ := newTestServer(t, Deps{Extraction: runner})
	h := tenantHeaders()

	rec := doJSON(s, http.MethodPost, "/extraction/run",
		`{"documentId":"doc1","name":"MSA.pdf","text":"Acme signed the MSA."}`, h)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started StartExtractionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started.RunID)
	assert.Equal(t, string(extraction.StatePending), started.State)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatal("extraction runner was not invoked")
	}
	assert.Equal(t, started.RunID, runner.last.RunID)
	assert.Equal(t, "doc1", runner.last.Document.DocumentID)

	rec = doJSON(s, http.MethodGet, "/extraction/runs/"+started.RunID, "", h)
	require.Equal(t, http.StatusOK, rec.Code)
	var run extraction.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, started.RunID, run.RunID)

	rec = doJSON(s, http.MethodGet, "/extraction/runs", "", h)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []extraction.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = doJSON(s, http.MethodGet, "/extraction/runs/unknown", "", h)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing text is rejected before a run record exists.
	rec = doJSON(s, http.MethodPost, "/extraction/run", `{"documentId":"doc2"}`, h)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportDocumentEndpoint(t *testing.T) {
	imp := &fakeImporter{res: &ingest.Result{
		GraphIRI:    "http://purplefabric.ai/graphs/tenant/t1/workspace/ws1/data",
		ChangeCount: 3,
		GraphSize:   120,
	}}
	s, _ := newTestServer(t, Deps{Importer: imp})

	rec := doJSON(s, http.MethodPost, "/documents/import",
		`{"documentId":"doc1","turtle":"<a> <b> <c> ."}`, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3, res.ChangeCount)
	assert.Equal(t, "doc1", imp.lastDoc)
	assert.Equal(t, "<a> <b> <c> .", imp.lastData)

	rec = doJSON(s, http.MethodPost, "/documents/import", `{"documentId":"doc1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Deps{Pingers: map[string]Pinger{
		"redis":  &fakePinger{},
		"qdrant": &fakePinger{},
	}})
	rec := doJSON(s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "ok", health.Backends["redis"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	s, _ := newTestServer(t, Deps{Pingers: map[string]Pinger{
		"neo4j": &fakePinger{err: errors.New("connection refused")},
	}})
	rec := doJSON(s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Contains(t, health.Backends["neo4j"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, Deps{})
	doJSON(s, http.MethodGet, "/healthz", "", nil)

	rec := doJSON(s, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "graphrag_http_requests_total")
}
