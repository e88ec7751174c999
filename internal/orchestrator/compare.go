package orchestrator

import (
	"context"
)

// runCompare answers the question twice, once through pure RAG and once
// through the triplestore, and presents both side by side. The legs run
// sequentially so a shared rate limit is not hit twice at once.
func (o *Orchestrator) runCompare(ctx context.Context, req Request, docIDs []string, memCtx string) (*Response, error) {
	ragResp, ragErr := o.runRAG(ctx, req, docIDs, memCtx)
	dbResp, dbErr := o.runGraphDB(ctx, req, memCtx)
	if ragErr != nil && dbErr != nil {
		return nil, ragErr
	}

	resp := &Response{Metadata: Metadata{SearchMode: ModeCompare}}

	content := "RAG ANSWER:\n"
	if ragErr != nil {
		content += "(retrieval failed: " + ragErr.Error() + ")"
	} else {
		content += ragResp.Content
		resp.Sources.Chunks = ragResp.Sources.Chunks
		resp.Sources.Documents = ragResp.Sources.Documents
		resp.Metadata.ResultCount += ragResp.Metadata.ResultCount
	}
	content += "\n\nGRAPHDB ANSWER:\n"
	if dbErr != nil {
		content += "(graph query failed: " + dbErr.Error() + ")"
	} else {
		content += dbResp.Content
		resp.Sources.Relations = dbResp.Sources.Relations
		resp.Metadata.SPARQL = dbResp.Metadata.SPARQL
		resp.Metadata.QueryFailed = dbResp.Metadata.QueryFailed
		resp.Metadata.ResultCount += dbResp.Metadata.ResultCount
	}

	resp.Content = content
	return resp, nil
}
