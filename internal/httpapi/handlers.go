package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/purplefabric/graphrag/internal/agent"
	"github.com/purplefabric/graphrag/internal/extraction"
	"github.com/purplefabric/graphrag/internal/fault"
	"github.com/purplefabric/graphrag/internal/memory"
	"github.com/purplefabric/graphrag/internal/orchestrator"
	"github.com/purplefabric/graphrag/internal/query"
	"go.uber.org/zap"
)

// ChatRequest is the body of POST /agents/{id}/chat.
type ChatRequest struct {
	Message   string           `json:"message"`
	History   []memory.Message `json:"history,omitempty"`
	SessionID string           `json:"sessionId,omitempty"`
	Mode      string           `json:"mode,omitempty"`
	LLMToken  string           `json:"llmToken,omitempty"`
}

func (s *Server) handleChat(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}

	var a *agent.Agent
	if s.deps.Agents != nil {
		a, err = s.deps.Agents.Get(c.Request().Context(), id.TenantID, id.WorkspaceID, c.Param("id"))
		if err != nil {
			return s.respondError(c, err)
		}
	} else {
		settings := agent.DefaultSettings()
		a = &agent.Agent{TenantID: id.TenantID, WorkspaceID: id.WorkspaceID, AgentID: c.Param("id"), Settings: settings}
	}

	resp, err := s.deps.Chat.Chat(c.Request().Context(), orchestrator.Request{
		TenantID:    id.TenantID,
		WorkspaceID: id.WorkspaceID,
		UserID:      id.UserID,
		Agent:       a,
		Message:     req.Message,
		History:     req.History,
		SessionID:   req.SessionID,
		Mode:        req.Mode,
		UserToken:   req.LLMToken,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateAgent(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var a agent.Agent
	if err := c.Bind(&a); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}
	a.TenantID = id.TenantID
	a.WorkspaceID = id.WorkspaceID
	if err := s.deps.Agents.Create(c.Request().Context(), &a); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (s *Server) handleListAgents(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	agents, err := s.deps.Agents.List(c.Request().Context(), id.TenantID, id.WorkspaceID)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, agents)
}

func (s *Server) handleGetAgent(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	a, err := s.deps.Agents.Get(c.Request().Context(), id.TenantID, id.WorkspaceID, c.Param("id"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleUpdateAgent(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var a agent.Agent
	if err := c.Bind(&a); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}
	a.TenantID = id.TenantID
	a.WorkspaceID = id.WorkspaceID
	a.AgentID = c.Param("id")
	if err := s.deps.Agents.Update(c.Request().Context(), &a); err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleDeleteAgent(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := s.deps.Agents.Delete(c.Request().Context(), id.TenantID, id.WorkspaceID, c.Param("id")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// AddMemoryRequest is the body of POST /agents/{id}/memories.
type AddMemoryRequest struct {
	Type       memory.Type `json:"type"`
	Content    string      `json:"content"`
	Importance float64     `json:"importance"`
	Tags       []string    `json:"tags,omitempty"`
}

func (s *Server) handleAddMemory(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if id.UserID == "" {
		return s.respondError(c, fault.New(fault.ConfigurationError, "x-user-id header is required"))
	}
	var req AddMemoryRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}
	m, err := s.deps.Memory.AddMemory(c.Request().Context(), c.Param("id"), id.UserID, memory.AddInput{
		Type:       req.Type,
		Content:    req.Content,
		Importance: req.Importance,
		Tags:       req.Tags,
	})
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (s *Server) handleSearchMemories(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if id.UserID == "" {
		return s.respondError(c, fault.New(fault.ConfigurationError, "x-user-id header is required"))
	}
	q := c.QueryParam("q")
	if q == "" {
		return s.respondError(c, fault.New(fault.ConfigurationError, "query parameter q is required"))
	}
	topK := 0
	if raw := c.QueryParam("topK"); raw != "" {
		topK, _ = strconv.Atoi(raw)
	}
	recalled, err := s.deps.Memory.SearchMemories(c.Request().Context(), c.Param("id"), id.UserID, q, topK)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, recalled)
}

func (s *Server) handleGetMemory(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	m, err := s.deps.Memory.GetMemory(c.Request().Context(), c.Param("id"), id.UserID, c.Param("memoryId"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleDeleteMemory(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if err := s.deps.Memory.DeleteMemory(c.Request().Context(), c.Param("id"), id.UserID, c.Param("memoryId")); err != nil {
		return s.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SPARQLRequest is the body of POST /sparql/query.
type SPARQLRequest struct {
	Query       string `json:"query"`
	TenantID    string `json:"tenantId"`
	WorkspaceID string `json:"workspaceId"`
}

// handleSPARQLQuery runs a caller-supplied read query. Write forms are
// rejected through the same gate the generator output passes.
func (s *Server) handleSPARQLQuery(c echo.Context) error {
	var req SPARQLRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}
	if req.TenantID == "" {
		req.TenantID = c.Request().Header.Get(HeaderTenantID)
	}
	if req.WorkspaceID == "" {
		req.WorkspaceID = c.Request().Header.Get(HeaderWorkspaceID)
	}
	if req.TenantID == "" || req.WorkspaceID == "" {
		return s.respondError(c, fault.New(fault.ConfigurationError, "tenantId and workspaceId are required"))
	}

	cleaned, err := query.CleanSPARQL(req.Query)
	if err != nil {
		return s.respondError(c, err)
	}
	result, err := s.deps.SPARQL.QueryData(c.Request().Context(), req.TenantID, req.WorkspaceID, cleaned, nil)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// StartExtractionRequest is the body of POST /extraction/run.
type StartExtractionRequest struct {
	DocumentID      string   `json:"documentId"`
	Name            string   `json:"name,omitempty"`
	Text            string   `json:"text"`
	DocType         string   `json:"docType,omitempty"`
	OntologyIDs     []string `json:"ontologyIds,omitempty"`
	OntologyVersion string   `json:"ontologyVersion,omitempty"`
	Profile         string   `json:"profile,omitempty"`
}

// StartExtractionResponse returns the run id to poll.
type StartExtractionResponse struct {
	RunID string `json:"runId"`
	State string `json:"state"`
}

// handleStartExtraction kicks the pipeline off in the background and
// returns immediately; clients poll the run status endpoint.
func (s *Server) handleStartExtraction(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var req StartExtractionRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}
	if req.DocumentID == "" || req.Text == "" {
		return s.respondError(c, fault.New(fault.ValidationFailed, "documentId and text are required"))
	}

	run, err := s.deps.Runs.NewRun(c.Request().Context(), id.TenantID, id.WorkspaceID, req.DocumentID, req.OntologyVersion, req.Profile)
	if err != nil {
		return s.respondError(c, err)
	}

	pipelineReq := extraction.Request{
		TenantID:    id.TenantID,
		WorkspaceID: id.WorkspaceID,
		Document: extraction.Document{
			DocumentID: req.DocumentID,
			Name:       req.Name,
			Text:       req.Text,
			DocType:    req.DocType,
		},
		OntologyIDs:     req.OntologyIDs,
		OntologyVersion: req.OntologyVersion,
		Profile:         req.Profile,
		RunID:           run.RunID,
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := s.deps.Extraction.Execute(ctx, pipelineReq); err != nil {
			s.logger.Error("extraction run failed to persist state",
				zap.String("run_id", run.RunID), zap.Error(err))
		}
	}()

	return c.JSON(http.StatusAccepted, StartExtractionResponse{RunID: run.RunID, State: string(run.State)})
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.deps.Runs.Get(c.Request().Context(), c.Param("runId"))
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleListRuns(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	ids, err := s.deps.Runs.List(c.Request().Context(), id.TenantID)
	if err != nil {
		return s.respondError(c, err)
	}
	runs := make([]*extraction.Run, 0, len(ids))
	for _, runID := range ids {
		run, err := s.deps.Runs.Get(c.Request().Context(), runID)
		if err != nil {
			continue
		}
		runs = append(runs, run)
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleQuarantine(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var limit int64
	if raw := c.QueryParam("limit"); raw != "" {
		limit, _ = strconv.ParseInt(raw, 10, 64)
	}
	records, err := s.deps.Runs.Quarantined(c.Request().Context(), id.TenantID, limit)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// ImportDocumentRequest is the body of POST /documents/import.
type ImportDocumentRequest struct {
	DocumentID string `json:"documentId"`
	Turtle     string `json:"turtle"`
}

func (s *Server) handleImportDocument(c echo.Context) error {
	id, err := s.identity(c)
	if err != nil {
		return s.respondError(c, err)
	}
	var req ImportDocumentRequest
	if err := c.Bind(&req); err != nil {
		return s.respondError(c, fault.New(fault.ConfigurationError, "invalid request body"))
	}
	res, err := s.deps.Importer.ImportDocument(c.Request().Context(), id.TenantID, id.WorkspaceID, req.DocumentID, req.Turtle)
	if err != nil {
		return s.respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}
