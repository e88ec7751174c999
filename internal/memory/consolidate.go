package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const extractSystemPrompt = `You extract long-term memories from a conversation turn.
Return ONLY a JSON array (possibly empty). Each element:
{"type": "semantic"|"event"|"preference"|"decision", "content": "...", "importance": 0.0-1.0, "tags": ["..."]}
Record only durable facts, preferences, decisions and notable events. Do not record small talk.`

const consolidateSystemPrompt = `You decide how a new memory relates to existing ones.
Reply with exactly one of:
ADD        - the new memory is genuinely new
UPDATE <n> - the new memory supersedes existing memory number <n>
NOOP       - the new memory adds nothing`

const coreBlockSystemPrompt = `You maintain a compact standing summary of what an assistant knows about a user.
Rewrite the summary to fold in the new facts. Keep it under 2000 characters. Return only the summary text.`

// candidate is one memory the extraction prompt proposed.
type candidate struct {
	Type       Type     `json:"type"`
	Content    string   `json:"content"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

// decision is a parsed consolidation verdict.
type decision struct {
	verb  string // ADD, UPDATE, NOOP
	index int    // 1-based, UPDATE only
}

// ExtractMemories mines a finished chat turn for durable memories. Each
// candidate is consolidated against its top-3 nearest existing memories;
// an UPDATE invalidates the superseded record. Accumulating
// high-importance additions triggers a core-block rewrite.
func (s *Store) ExtractMemories(ctx context.Context, agent, user, userMsg, asstMsg, sessionID string) ([]*Memory, error) {
	prompt := fmt.Sprintf("User said:\n%s\n\nAssistant replied:\n%s", userMsg, asstMsg)
	raw, err := s.chat.Complete(ctx, extractSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	candidates, err := parseCandidates(raw)
	if err != nil {
		s.logger.Warn("memory extraction returned unparseable JSON", zap.Error(err))
		return nil, nil
	}

	var added []*Memory
	var highImportance bool
	for _, cand := range candidates {
		if cand.Content == "" {
			continue
		}
		dec := s.consolidate(ctx, agent, user, cand)
		switch dec.verb {
		case "NOOP":
			continue
		case "UPDATE":
			// superseded record invalidated inside consolidate
		}
		m, err := s.AddMemory(ctx, agent, user, AddInput{
			Type:            cand.Type,
			Content:         cand.Content,
			Importance:      cand.Importance,
			Tags:            cand.Tags,
			SourceSessionID: sessionID,
		})
		if err != nil {
			s.logger.Warn("storing extracted memory failed", zap.Error(err))
			continue
		}
		added = append(added, m)
		if m.Importance >= 0.8 {
			highImportance = true
		}
	}

	if highImportance {
		if err := s.rewriteCoreBlock(ctx, agent, user, added); err != nil {
			s.logger.Warn("core block rewrite failed", zap.Error(err))
		}
	}
	return added, nil
}

// consolidate decides ADD, UPDATE or NOOP for one candidate against its
// nearest existing memories. Any failure degrades to ADD so a flaky
// model never loses a memory.
func (s *Store) consolidate(ctx context.Context, agent, user string, cand candidate) decision {
	similar, err := s.search(ctx, agent, user, cand.Content, 3, false)
	if err != nil || len(similar) == 0 {
		return decision{verb: "ADD"}
	}

	var b strings.Builder
	b.WriteString("Existing memories:\n")
	for i, r := range similar {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.Type, r.Content)
	}
	fmt.Fprintf(&b, "\nNew memory: [%s] %s\n", cand.Type, cand.Content)

	raw, err := s.chat.Complete(ctx, consolidateSystemPrompt, b.String())
	if err != nil {
		return decision{verb: "ADD"}
	}
	dec := parseDecision(raw)
	if dec.verb == "UPDATE" {
		if dec.index < 1 || dec.index > len(similar) {
			return decision{verb: "ADD"}
		}
		old := similar[dec.index-1].Memory
		old.Status = StatusInvalid
		if err := s.idx.JSONSet(ctx, old.key(), &old); err != nil {
			s.logger.Warn("invalidating superseded memory failed",
				zap.String("memory_id", old.MemoryID), zap.Error(err))
		}
	}
	return dec
}

func (s *Store) rewriteCoreBlock(ctx context.Context, agent, user string, added []*Memory) error {
	current, err := s.GetCoreBlock(ctx, agent, user)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString("Current summary:\n")
	if current.Content == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(current.Content + "\n")
	}
	b.WriteString("\nNew facts:\n")
	for _, m := range added {
		fmt.Fprintf(&b, "- [%s] %s\n", m.Type, m.Content)
	}
	rewritten, err := s.chat.Complete(ctx, coreBlockSystemPrompt, b.String())
	if err != nil {
		return err
	}
	return s.SetCoreBlock(ctx, agent, user, strings.TrimSpace(rewritten))
}

// parseCandidates tolerates markdown fences and prose around the array.
func parseCandidates(raw string) ([]candidate, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var out []candidate
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseDecision(raw string) decision {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(raw)))
	if len(fields) == 0 {
		return decision{verb: "ADD"}
	}
	switch fields[0] {
	case "NOOP":
		return decision{verb: "NOOP"}
	case "UPDATE":
		if len(fields) > 1 {
			if n, err := strconv.Atoi(fields[1]); err == nil {
				return decision{verb: "UPDATE", index: n}
			}
		}
		return decision{verb: "ADD"}
	default:
		return decision{verb: "ADD"}
	}
}
