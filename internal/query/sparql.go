package query

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/llm"
	"github.com/purplefabric/graphrag/internal/store/triple"
	"go.uber.org/zap"
)

// maxSampleRows bounds the value samples included in the priming text.
const maxSampleRows = 30

const sparqlSystemPrompt = `You translate a natural-language question into a single SPARQL query.
Rules:
- Use full IRIs wrapped in <...> for every class and property.
- Use OPTIONAL for properties that may be absent.
- Use REGEX(?x, "...", "i") for text matching.
- For AND/OR conditions prefer multi-hop patterns with UNION or nested triples.
- Return ONLY the query, no commentary.`

// SPARQLGenerator synthesizes SPARQL against an introspected ontology.
type SPARQLGenerator struct {
	chat   llm.Chat
	logger *zap.Logger
}

// NewSPARQLGenerator builds the generator.
func NewSPARQLGenerator(chat llm.Chat, logger *zap.Logger) *SPARQLGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SPARQLGenerator{chat: chat, logger: logger.Named("sparql")}
}

// SPARQLPriming renders the ontology plus sampled data values for the
// synthesis prompt: classes, typed data properties and object properties
// grouped by domain class, then up to 30 sample rows.
func SPARQLPriming(schema *fabric.OntologySchema, samples *triple.Result) string {
	var b strings.Builder

	b.WriteString("Classes:\n")
	for _, c := range schema.Classes {
		fmt.Fprintf(&b, "- %s <%s>\n", c.Name, c.IRI)
	}

	b.WriteString("\nData properties by class:\n")
	for _, class := range domainOrder(schema) {
		props := schema.DataPropertiesOf(class)
		if len(props) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n", class)
		for _, p := range props {
			fmt.Fprintf(&b, "  %s <%s> (range %s)\n", p.Name, p.IRI, p.Range)
		}
	}

	b.WriteString("\nObject properties by class:\n")
	for _, p := range schema.ObjectProperties {
		fmt.Fprintf(&b, "- %s <%s>: %s -> %s\n", p.Name, p.IRI, p.Domain, p.Range)
	}

	if samples != nil && len(samples.Rows) > 0 {
		b.WriteString("\nSample data:\n")
		for i, row := range samples.Rows {
			if i >= maxSampleRows {
				break
			}
			var parts []string
			for _, v := range samples.Vars {
				if term, ok := row[v]; ok {
					parts = append(parts, term.Value)
				}
			}
			b.WriteString("  " + strings.Join(parts, " | ") + "\n")
		}
	}
	return b.String()
}

func domainOrder(schema *fabric.OntologySchema) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range schema.DataProperties {
		if p.Domain != "" && !seen[p.Domain] {
			seen[p.Domain] = true
			out = append(out, p.Domain)
		}
	}
	sort.Strings(out)
	return out
}

// Generate synthesizes and repairs one SPARQL query for the question.
func (g *SPARQLGenerator) Generate(ctx context.Context, question string, schema *fabric.OntologySchema, samples *triple.Result) (string, error) {
	prompt := SPARQLPriming(schema, samples) + "\nQuestion: " + question
	raw, err := g.chat.Complete(ctx, sparqlSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	cleaned, err := CleanSPARQL(raw)
	if err != nil {
		g.logger.Warn("unusable SPARQL from model", zap.String("question", question), zap.Error(err))
		return "", err
	}
	return cleaned, nil
}

// Repair asks the model to correct a query the store rejected. The error
// message, failed query and schema all go back into the prompt.
func (g *SPARQLGenerator) Repair(ctx context.Context, question, failedQuery, storeError string, schema *fabric.OntologySchema) (string, error) {
	prompt := fmt.Sprintf("%s\nQuestion: %s\n\nThis query failed:\n%s\n\nStore error:\n%s\n\nReturn a corrected query.",
		SPARQLPriming(schema, nil), question, failedQuery, storeError)
	raw, err := g.chat.Complete(ctx, sparqlSystemPrompt, prompt)
	if err != nil {
		return "", err
	}
	return CleanSPARQL(raw)
}
