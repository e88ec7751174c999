package extraction

import (
	"context"
	"fmt"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/graphevent"
	"github.com/purplefabric/graphrag/internal/llm"
	"go.uber.org/zap"
)

// Pipeline drives a run through its linear states, persisting every
// transition.
type Pipeline struct {
	runs      *RunStore
	fabric    *fabric.Service
	extractor *Extractor
	validator *Validator
	resolver  *Resolver
	writer    *Writer
	chat      llm.Chat
	logger    *zap.Logger
}

// NewPipeline wires the pipeline stages.
func NewPipeline(runs *RunStore, fab *fabric.Service, chat llm.Chat, resolver *Resolver, writer *Writer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("extraction")
	return &Pipeline{
		runs:      runs,
		fabric:    fab,
		extractor: NewExtractor(chat, logger),
		validator: NewValidator(logger),
		resolver:  resolver,
		writer:    writer,
		chat:      chat,
		logger:    logger,
	}
}

// Request describes one extraction invocation.
type Request struct {
	TenantID    string
	WorkspaceID string

	Document        Document
	OntologyIDs     []string
	OntologyVersion string
	Profile         string

	// RunID reuses a pre-created run record instead of opening a new one,
	// so callers can hand the id out before executing in the background.
	RunID string
}

// Execute runs the full pipeline. The returned run record reflects the
// terminal state; pipeline failures are recorded on it, and only
// infrastructure failures (run record unwritable) surface as errors.
func (p *Pipeline) Execute(ctx context.Context, req Request) (*Run, error) {
	var run *Run
	var err error
	if req.RunID != "" {
		run, err = p.runs.Get(ctx, req.RunID)
	} else {
		run, err = p.runs.NewRun(ctx, req.TenantID, req.WorkspaceID, req.Document.DocumentID, req.OntologyVersion, req.Profile)
	}
	if err != nil {
		return nil, err
	}
	run.DocumentName = req.Document.Name

	fail := func(msgs ...string) (*Run, error) {
		if err := p.runs.Transition(ctx, run, StateFailed, msgs...); err != nil {
			return run, err
		}
		recordRunOutcome(StateFailed)
		p.logger.Warn("extraction run failed",
			zap.String("run_id", run.RunID), zap.Strings("errors", msgs))
		return run, nil
	}

	// CHUNKING
	if err := p.runs.Transition(ctx, run, StateChunking); err != nil {
		return run, err
	}
	chunks := ChunkDocument(req.Document)
	if len(chunks) == 0 {
		return fail("document produced no chunks")
	}

	// CLASSIFYING; the label only picks an ontology slice, so a failed
	// classification downgrades to "use everything" rather than failing.
	if err := p.runs.Transition(ctx, run, StateClassifying); err != nil {
		return run, err
	}
	classification, err := ClassifyDocument(ctx, p.chat, req.Document, chunks)
	if err != nil {
		p.logger.Warn("classification failed, extracting against full ontology",
			zap.String("run_id", run.RunID), zap.Error(err))
	}

	// EXTRACTING
	if err := p.runs.Transition(ctx, run, StateExtracting); err != nil {
		return run, err
	}
	schema, err := p.fabric.IntrospectOntology(ctx, req.TenantID, req.WorkspaceID, req.OntologyIDs)
	if err != nil {
		return fail(fmt.Sprintf("ontology introspection: %v", err))
	}
	if sliced := SliceOntology(schema, classification); sliced != schema {
		p.logger.Info("extracting against ontology slice",
			zap.String("run_id", run.RunID),
			zap.Int("classes", len(sliced.Classes)), zap.Int("full", len(schema.Classes)))
		schema = sliced
	}

	batch := graphevent.NewBatch(graphevent.Provenance{
		TenantID:        req.TenantID,
		WorkspaceID:     req.WorkspaceID,
		OntologyVersion: req.OntologyVersion,
		ExtractionRun:   run.RunID,
		SourceType:      "document",
		SourceID:        req.Document.DocumentID,
	})
	var chunkErrs []string
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			return fail(fmt.Sprintf("cancelled during extraction: %v", ctx.Err()))
		}
		if err := p.extractor.ExtractChunk(ctx, batch, schema, chunk); err != nil {
			chunkErrs = append(chunkErrs, fmt.Sprintf("%s: %v", chunk.ChunkID, err))
		}
	}
	if len(chunkErrs) == len(chunks) {
		return fail(append([]string{"every chunk failed extraction"}, chunkErrs...)...)
	}
	run.Errors = append(run.Errors, chunkErrs...)

	// VALIDATING
	if err := p.runs.Transition(ctx, run, StateValidating); err != nil {
		return run, err
	}
	batch = p.validator.Validate(batch, schema)

	// RESOLVING
	if err := p.runs.Transition(ctx, run, StateResolving); err != nil {
		return run, err
	}
	if ctx.Err() != nil {
		return fail(fmt.Sprintf("cancelled before resolution: %v", ctx.Err()))
	}
	batch = p.resolver.Resolve(ctx, batch)
	batch = ApplyGate(batch)

	// WRITING
	if err := p.runs.Transition(ctx, run, StateWriting); err != nil {
		return run, err
	}
	if err := p.writer.Write(ctx, batch); err != nil {
		return fail(fmt.Sprintf("graph write: %v", err))
	}
	if err := p.runs.PushQuarantine(ctx, req.TenantID, batch.Quarantine); err != nil {
		p.logger.Warn("persisting quarantine records failed", zap.Error(err))
	}
	if err := p.runs.SaveEvents(ctx, batch); err != nil {
		p.logger.Warn("persisting event batch failed", zap.Error(err))
	}

	run.BatchID = batch.BatchID
	run.Stats = batch.Stats
	if err := p.runs.Transition(ctx, run, StateCompleted); err != nil {
		return run, err
	}
	recordRunOutcome(StateCompleted)
	recordBatch(batch)
	return run, nil
}
