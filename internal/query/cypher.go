package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/purplefabric/graphrag/internal/llm"
	"github.com/purplefabric/graphrag/internal/store/lpg"
	"go.uber.org/zap"
)

const cypherSystemPrompt = `You translate a natural-language question into a single read-only Cypher query.
Rules:
- Copy relationship patterns EXACTLY as given, including direction.
- Every matched node MUST be filtered on workspace_id as shown.
- Non-aggregate queries MUST end with LIMIT.
- Return ONLY the query, no commentary.`

// CypherGenerator synthesizes Cypher against the introspected LPG schema.
type CypherGenerator struct {
	chat         llm.Chat
	defaultLimit int
	logger       *zap.Logger
}

// NewCypherGenerator builds the generator.
func NewCypherGenerator(chat llm.Chat, defaultLimit int, logger *zap.Logger) *CypherGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultLimit <= 0 {
		defaultLimit = 25
	}
	return &CypherGenerator{chat: chat, defaultLimit: defaultLimit, logger: logger.Named("cypher")}
}

// CypherPriming renders labels, direction-exact relationship patterns and
// property samples for the synthesis prompt.
func CypherPriming(schema *lpg.Schema, workspaceID string, documentIDs []string) string {
	var b strings.Builder

	b.WriteString("Node labels:\n")
	for _, label := range schema.Labels {
		b.WriteString("- " + label + "\n")
	}

	b.WriteString("\nRelationship patterns (copy direction verbatim):\n")
	for _, rel := range schema.Relationships {
		b.WriteString("- " + rel.Pattern + "\n")
	}

	if len(schema.PropertySamples) > 0 {
		b.WriteString("\nProperty samples:\n")
		for _, label := range schema.Labels {
			props, ok := schema.PropertySamples[label]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "%s:\n", label)
			for prop, values := range props {
				fmt.Fprintf(&b, "  %s: %s\n", prop, strings.Join(values, ", "))
			}
		}
	}

	fmt.Fprintf(&b, "\nEvery matched node n MUST include: WHERE n.workspace_id = '%s'\n", workspaceID)
	if len(documentIDs) > 0 {
		fmt.Fprintf(&b, "Nodes MUST also satisfy: n.source_document IN [%s]\n", quoteList(documentIDs))
	}
	return b.String()
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + strings.ReplaceAll(item, "'", "\\'") + "'"
	}
	return strings.Join(quoted, ", ")
}

// Generate synthesizes and cleans one Cypher query. documentIDs is the
// agent's resolved folder scope; empty means unrestricted.
func (g *CypherGenerator) Generate(ctx context.Context, question, workspaceID string, schema *lpg.Schema, documentIDs []string) (string, error) {
	prompt := CypherPriming(schema, workspaceID, documentIDs) + "\nQuestion: " + question
	raw, err := g.chat.Complete(ctx, cypherSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	cleaned, err := CleanCypher(raw, workspaceID, g.defaultLimit)
	if err != nil {
		g.logger.Warn("unusable Cypher from model", zap.String("question", question), zap.Error(err))
		return "", err
	}
	return cleaned, nil
}

// Repair asks the model to correct a query neo4j rejected.
func (g *CypherGenerator) Repair(ctx context.Context, question, workspaceID, failedQuery, storeError string, schema *lpg.Schema) (string, error) {
	prompt := fmt.Sprintf("%s\nQuestion: %s\n\nThis query failed:\n%s\n\nDatabase error:\n%s\n\nReturn a corrected query.",
		CypherPriming(schema, workspaceID, nil), question, failedQuery, storeError)
	raw, err := g.chat.Complete(ctx, cypherSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return CleanCypher(raw, workspaceID, g.defaultLimit)
}
