// Package triple provides the SPARQL 1.1 Protocol client for the
// triplestore, with a bounded request pool and retry policy.
package triple

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/purplefabric/graphrag/internal/config"
	"github.com/purplefabric/graphrag/internal/fault"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("graphrag.store.triple")

// ErrEmptyQuery indicates an empty SPARQL query.
var ErrEmptyQuery = errors.New("empty sparql query")

// maxRetries is the number of retry attempts after the initial request.
const maxRetries = 2

// Client talks to a GraphDB-style repository endpoint.
type Client struct {
	queryEndpoint  string
	updateEndpoint string
	graphEndpoint  string
	username       string
	password       string

	httpClient *http.Client
	sem        *semaphore.Weighted
	timeout    time.Duration
}

// NewClient builds a Client from config.
func NewClient(cfg config.TriplestoreConfig) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Repository == "" {
		return nil, fault.New(fault.ConfigurationError, "triplestore base url and repository are required")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	repo := base + "/repositories/" + cfg.Repository
	return &Client{
		queryEndpoint:  repo,
		updateEndpoint: repo + "/statements",
		graphEndpoint:  repo + "/rdf-graphs/service",
		username:       cfg.Username,
		password:       cfg.Password.Value(),
		httpClient:     &http.Client{Timeout: timeout},
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		timeout:        timeout,
	}, nil
}

// Query runs a SPARQL query and parses the JSON results.
func (c *Client) Query(ctx context.Context, query string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "triple.Query")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	body, err := c.do(ctx, http.MethodPost, c.queryEndpoint,
		"application/sparql-query", "application/sparql-results+json", []byte(query))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	result, err := parseResult(body)
	if err != nil {
		return nil, fault.Wrap(fault.SchemaMismatch, err, "triplestore returned unparseable results")
	}
	span.SetAttributes(attribute.Int("rows", len(result.Rows)))
	return result, nil
}

// Update runs a SPARQL update (INSERT DATA, CLEAR GRAPH, ...).
func (c *Client) Update(ctx context.Context, update string) error {
	ctx, span := tracer.Start(ctx, "triple.Update")
	defer span.End()

	if strings.TrimSpace(update) == "" {
		return ErrEmptyQuery
	}
	_, err := c.do(ctx, http.MethodPost, c.updateEndpoint,
		"application/sparql-update", "", []byte(update))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// ImportTurtle loads Turtle content into the named graph.
func (c *Client) ImportTurtle(ctx context.Context, graphIRI, turtle string) error {
	ctx, span := tracer.Start(ctx, "triple.ImportTurtle")
	defer span.End()
	span.SetAttributes(attribute.String("graph", graphIRI))

	endpoint := c.graphEndpoint + "?graph=" + url.QueryEscape(graphIRI)
	_, err := c.do(ctx, http.MethodPost, endpoint, "text/turtle", "", []byte(turtle))
	return err
}

// CountTriplesInGraph returns the triple count of a named graph.
func (c *Client) CountTriplesInGraph(ctx context.Context, graphIRI string) (int64, error) {
	query := fmt.Sprintf("SELECT (COUNT(*) AS ?c) WHERE { GRAPH <%s> { ?s ?p ?o } }", graphIRI)
	result, err := c.Query(ctx, query)
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 {
		return 0, nil
	}
	count, err := strconv.ParseInt(result.Rows[0]["c"].Value, 10, 64)
	if err != nil {
		return 0, fault.Wrap(fault.SchemaMismatch, err, "count query returned non-numeric value")
	}
	return count, nil
}

// ClearGraph removes all triples from the named graph, keeping the graph.
func (c *Client) ClearGraph(ctx context.Context, graphIRI string) error {
	return c.Update(ctx, fmt.Sprintf("CLEAR SILENT GRAPH <%s>", graphIRI))
}

// DropGraph removes the named graph entirely.
func (c *Client) DropGraph(ctx context.Context, graphIRI string) error {
	return c.Update(ctx, fmt.Sprintf("DROP SILENT GRAPH <%s>", graphIRI))
}

// CheckConnection probes the endpoint with a trivial ASK.
func (c *Client) CheckConnection(ctx context.Context) error {
	_, err := c.Query(ctx, "ASK { ?s ?p ?o }")
	return err
}

// do acquires a pool slot, then issues the request under the retry policy.
func (c *Client) do(ctx context.Context, method, endpoint, contentType, accept string, body []byte) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fault.Wrap(fault.ConcurrencyLimitExceeded, err, "triplestore pool")
	}
	defer c.sem.Release(1)

	policy := backoff.WithContext(backoff.WithMaxRetries(newBackoff(), maxRetries), ctx)

	var out []byte
	op := func() error {
		data, err := c.doOnce(ctx, method, endpoint, contentType, accept, body)
		if err != nil {
			if fault.Retriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		out = data
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 3 * time.Second
	b.RandomizationFactor = 0
	return b
}

func (c *Client) doOnce(ctx context.Context, method, endpoint, contentType, accept string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fault.Wrap(fault.BackendUnavailable, err, "reading triplestore response")
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fault.New(fault.BackendUnavailable, "triplestore returned %d: %s",
			resp.StatusCode, truncate(string(data), 200))
	case resp.StatusCode >= 400:
		return nil, fault.New(fault.QueryExecutionFailed, "triplestore rejected request (%d): %s",
			resp.StatusCode, truncate(string(data), 500))
	}
	return data, nil
}

// classifyTransportError marks connection refused/reset and timeouts as
// retriable backend unavailability.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fault.Wrap(fault.BackendUnavailable, err, "triplestore request timed out")
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return fault.Wrap(fault.BackendUnavailable, err, "triplestore connection failed")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.BackendUnavailable, err, "triplestore request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fault.Wrap(fault.BackendUnavailable, err, "triplestore request failed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
