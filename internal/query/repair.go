// Package query synthesizes SPARQL and Cypher from natural-language
// questions, with deterministic post-processing repairs for the failure
// modes LLMs actually produce.
package query

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/purplefabric/graphrag/internal/fault"
)

var (
	sparqlStartRe = regexp.MustCompile(`(?is)\b(PREFIX|SELECT|ASK|CONSTRUCT|DESCRIBE|WITH)\b`)

	// Prefixed names must use ':', not '.'. Only touch Capitalized.Capitalized
	// pairs so decimals and IRIs survive.
	dottedPrefixRe = regexp.MustCompile(`\b([A-Z][A-Za-z0-9_]*)\.([A-Z][A-Za-z0-9_]*)\b`)

	limitOffsetRe = regexp.MustCompile(`(?i)\b(LIMIT|OFFSET)\s+(\d+)`)

	// A triple pattern with only two variables is malformed.
	twoVarStatementRe = regexp.MustCompile(`(?m)^\s*\?\w+\s+\?\w+\s*\.\s*$`)
	twoVarBracedRe    = regexp.MustCompile(`\{\s*\?\w+\s+\?\w+\s*\}`)

	writeFormRe = regexp.MustCompile(`(?i)^\s*(INSERT|DELETE|DROP|CLEAR|CREATE|LOAD|MOVE|COPY|ADD)\b`)
)

// CleanSPARQL applies the repair sequence to a raw LLM response and
// returns an executable read-only query, or a QueryGenerationFailed
// fault when nothing salvageable remains.
func CleanSPARQL(raw string) (string, error) {
	q := stripFences(raw)

	// Drop any preamble before the first query keyword.
	loc := sparqlStartRe.FindStringIndex(q)
	if loc == nil {
		return "", fault.New(fault.QueryGenerationFailed, "response contains no SPARQL query form")
	}
	q = q[loc[0]:]

	if writeFormRe.MatchString(q) {
		return "", fault.New(fault.QueryGenerationFailed, "only read query forms are allowed")
	}

	q = removeServiceBlocks(q)
	q = dottedPrefixRe.ReplaceAllString(q, "$1:$2")
	q = moveLimitOffsetOutside(q)
	q = twoVarStatementRe.ReplaceAllString(q, "")
	q = twoVarBracedRe.ReplaceAllString(q, "{ }")
	q = balanceParens(q)

	q = strings.TrimSpace(q)
	if q == "" {
		return "", fault.New(fault.QueryGenerationFailed, "repairs left an empty query")
	}
	return q, nil
}

func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```sparql", "")
	s = strings.ReplaceAll(s, "```cypher", "")
	s = strings.ReplaceAll(s, "```", "")
	return s
}

// removeServiceBlocks deletes every SERVICE <...> { ... } clause,
// matching braces so nested groups survive.
func removeServiceBlocks(q string) string {
	upper := strings.ToUpper(q)
	for {
		idx := strings.Index(upper, "SERVICE")
		if idx < 0 {
			return q
		}
		open := strings.Index(q[idx:], "{")
		if open < 0 {
			return q
		}
		open += idx
		depth := 0
		end := -1
		for i := open; i < len(q); i++ {
			switch q[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i
				}
			}
			if end >= 0 {
				break
			}
		}
		if end < 0 {
			return q
		}
		q = q[:idx] + q[end+1:]
		upper = strings.ToUpper(q)
	}
}

// moveLimitOffsetOutside relocates LIMIT/OFFSET clauses that ended up
// inside the WHERE group to after the final closing brace.
func moveLimitOffsetOutside(q string) string {
	lastBrace := strings.LastIndex(q, "}")
	if lastBrace < 0 {
		return q
	}
	inside := q[:lastBrace]
	matches := limitOffsetRe.FindAllString(inside, -1)
	if len(matches) == 0 {
		return q
	}
	inside = limitOffsetRe.ReplaceAllString(inside, "")
	return inside + q[lastBrace:] + " " + strings.Join(matches, " ")
}

// balanceParens appends missing closers and strips dangling extras.
func balanceParens(q string) string {
	depth := 0
	var b strings.Builder
	for _, r := range q {
		switch r {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				continue
			}
			depth--
		}
		b.WriteRune(r)
	}
	out := b.String()
	for ; depth > 0; depth-- {
		out += ")"
	}
	return out
}

var cypherWriteRe = regexp.MustCompile(`(?i)\b(CREATE|MERGE|DELETE|DETACH|SET|REMOVE|DROP)\b`)

// aggregateRe detects aggregate Cypher queries, which may omit LIMIT.
var aggregateRe = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max|collect)\s*\(`)

var workspaceFilterRe = regexp.MustCompile(`(?i)\bworkspace_id\s*(=|IN\b|CONTAINS\b)`)

// CleanCypher strips fences, rejects write clauses, requires the
// workspace filter when a workspace id is given, and appends a LIMIT to
// non-aggregate queries missing one.
func CleanCypher(raw, workspaceID string, defaultLimit int) (string, error) {
	q := strings.TrimSpace(stripFences(raw))

	// Drop prose before the first MATCH or WITH.
	if loc := regexp.MustCompile(`(?is)\b(MATCH|OPTIONAL MATCH|WITH|CALL)\b`).FindStringIndex(q); loc != nil {
		q = q[loc[0]:]
	}
	if q == "" {
		return "", fault.New(fault.QueryGenerationFailed, "response contains no Cypher query")
	}
	if cypherWriteRe.MatchString(q) {
		return "", fault.New(fault.QueryGenerationFailed, "only read-only Cypher is allowed")
	}
	if workspaceID != "" {
		if !workspaceFilterRe.MatchString(q) || !strings.Contains(q, workspaceID) {
			return "", fault.New(fault.QueryGenerationFailed, "generated Cypher is not filtered on the workspace")
		}
	}
	if !regexp.MustCompile(`(?i)\bLIMIT\s+\d+`).MatchString(q) && !aggregateRe.MatchString(q) {
		if defaultLimit <= 0 {
			defaultLimit = 25
		}
		q = strings.TrimRight(q, "; \n\t") + "\nLIMIT " + strconv.Itoa(defaultLimit)
	}
	return q, nil
}
