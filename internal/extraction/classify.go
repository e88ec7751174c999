package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/purplefabric/graphrag/internal/fabric"
	"github.com/purplefabric/graphrag/internal/llm"
)

// Classification is the document-level label used to pick an ontology
// slice when one exists. It never gates extraction.
type Classification struct {
	DocumentType string   `json:"document_type"`
	Industry     string   `json:"industry"`
	Topics       []string `json:"topics"`
	Confidence   float64  `json:"confidence"`
}

const classifySystemPrompt = `You classify a document for knowledge extraction.
Return ONLY a JSON object:
{"document_type": "...", "industry": "...", "topics": ["..."], "confidence": 0.0-1.0}`

// ClassifyDocument issues the single classification call over the first
// chunks of the document.
func ClassifyDocument(ctx context.Context, chat llm.Chat, doc Document, chunks []Chunk) (*Classification, error) {
	var sample strings.Builder
	sample.WriteString("Document name: " + doc.Name + "\n\n")
	for i, c := range chunks {
		if i >= 3 {
			break
		}
		sample.WriteString(c.Text)
		sample.WriteString("\n\n")
	}

	raw, err := chat.Complete(ctx, classifySystemPrompt, sample.String())
	if err != nil {
		return nil, err
	}
	var out Classification
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &out); err != nil {
		return nil, fmt.Errorf("parsing classification: %w", err)
	}
	return &out, nil
}

// SliceOntology narrows the schema to the classes the classification names
// plus their direct relationship neighbors. A classification that matches
// no known class leaves the schema whole, so extraction never loses
// coverage to a bad label.
func SliceOntology(schema *fabric.OntologySchema, c *Classification) *fabric.OntologySchema {
	if schema == nil || c == nil {
		return schema
	}
	keep := make(map[string]bool)
	labels := append([]string{c.DocumentType, c.Industry}, c.Topics...)
	for _, class := range schema.Classes {
		for _, l := range labels {
			if l != "" && (strings.EqualFold(class.Name, l) || strings.EqualFold(class.Label, l)) {
				keep[class.Name] = true
			}
		}
	}
	if len(keep) == 0 {
		return schema
	}

	// Relationships pull their other endpoint into the slice so object
	// properties never dangle.
	sliced := &fabric.OntologySchema{}
	for _, p := range schema.ObjectProperties {
		if keep[p.Domain] || keep[p.Range] {
			keep[p.Domain] = true
			keep[p.Range] = true
			sliced.ObjectProperties = append(sliced.ObjectProperties, p)
		}
	}
	for _, class := range schema.Classes {
		if keep[class.Name] {
			sliced.Classes = append(sliced.Classes, class)
		}
	}
	for _, p := range schema.DataProperties {
		if keep[p.Domain] {
			sliced.DataProperties = append(sliced.DataProperties, p)
		}
	}
	return sliced
}

// extractJSONObject cuts the first {...} region out of a chatty response.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
