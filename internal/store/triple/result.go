package triple

import (
	"encoding/json"
	"fmt"
)

// TermKind tags an RDF term in a binding row.
type TermKind string

const (
	TermURI     TermKind = "uri"
	TermLiteral TermKind = "literal"
	TermBNode   TermKind = "bnode"
)

// Term is one RDF term: a URI, a literal with optional datatype/language,
// or a blank node.
type Term struct {
	Kind     TermKind `json:"kind"`
	Value    string   `json:"value"`
	Datatype string   `json:"datatype,omitempty"`
	Lang     string   `json:"lang,omitempty"`
}

// IsURI reports whether the term is a URI reference.
func (t Term) IsURI() bool { return t.Kind == TermURI }

// Row maps variable names to bound terms. Unbound variables are absent.
type Row map[string]Term

// Result holds a parsed SPARQL response. Boolean is set for ASK queries.
type Result struct {
	Vars    []string
	Rows    []Row
	Boolean *bool
}

// sparqlJSON mirrors the SPARQL 1.1 Query Results JSON Format.
type sparqlJSON struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Boolean *bool `json:"boolean"`
	Results struct {
		Bindings []map[string]sparqlTerm `json:"bindings"`
	} `json:"results"`
}

type sparqlTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype"`
	Lang     string `json:"xml:lang"`
}

func parseResult(data []byte) (*Result, error) {
	var raw sparqlJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing sparql json results: %w", err)
	}

	result := &Result{Vars: raw.Head.Vars, Boolean: raw.Boolean}
	for _, binding := range raw.Results.Bindings {
		row := make(Row, len(binding))
		for name, term := range binding {
			row[name] = convertTerm(term)
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

func convertTerm(t sparqlTerm) Term {
	switch t.Type {
	case "uri":
		return Term{Kind: TermURI, Value: t.Value}
	case "bnode":
		return Term{Kind: TermBNode, Value: t.Value}
	default:
		// "literal" and the legacy "typed-literal" both land here.
		return Term{Kind: TermLiteral, Value: t.Value, Datatype: t.Datatype, Lang: t.Lang}
	}
}
