package extraction

import (
	"fmt"
	"strings"
)

// Document is the parsed input to a run.
type Document struct {
	DocumentID string
	Name       string
	Text       string

	// DocType is a hint for classification ("contract", "ticket", ...).
	DocType string
}

// Chunk is one extraction unit with a stable id and source coordinates.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Index      int
	Text       string

	PageStart int
	PageEnd   int
	CharStart int
	CharEnd   int

	// SectionPath is the heading trail above the chunk, "A > B" style.
	SectionPath string
}

const (
	// maxChunkChars bounds a chunk; paragraphs are packed until it is hit.
	maxChunkChars = 1500

	// charsPerPage approximates page numbers for plain-text input.
	charsPerPage = 3000
)

// ChunkDocument splits a document on paragraph boundaries into chunks with
// ids {doc}_chunk_{i}. Markdown-style headings update the section path
// without being dropped from the text.
func ChunkDocument(doc Document) []Chunk {
	paragraphs := splitParagraphs(doc.Text)
	var chunks []Chunk

	var (
		buf         strings.Builder
		bufStart    = -1
		sectionPath []string
		bufSection  string
		offset      int
	)

	flush := func(end int) {
		if buf.Len() == 0 {
			return
		}
		i := len(chunks)
		chunks = append(chunks, Chunk{
			ChunkID:     fmt.Sprintf("%s_chunk_%d", doc.DocumentID, i),
			DocumentID:  doc.DocumentID,
			Index:       i,
			Text:        strings.TrimSpace(buf.String()),
			PageStart:   bufStart/charsPerPage + 1,
			PageEnd:     end/charsPerPage + 1,
			CharStart:   bufStart,
			CharEnd:     end,
			SectionPath: bufSection,
		})
		buf.Reset()
		bufStart = -1
	}

	for _, para := range paragraphs {
		start := strings.Index(doc.Text[offset:], para)
		if start < 0 {
			start = 0
		}
		start += offset
		offset = start + len(para)

		if heading, level := parseHeading(para); heading != "" {
			if level <= len(sectionPath) {
				sectionPath = sectionPath[:level-1]
			}
			sectionPath = append(sectionPath, heading)
		}

		if buf.Len() > 0 && buf.Len()+len(para) > maxChunkChars {
			flush(start)
		}
		if bufStart < 0 {
			bufStart = start
			bufSection = strings.Join(sectionPath, " > ")
		}
		buf.WriteString(para)
		buf.WriteString("\n\n")
	}
	flush(len(doc.Text))
	return chunks
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseHeading returns the heading text and level for "# ..." lines.
func parseHeading(para string) (string, int) {
	line := strings.TrimSpace(para)
	if !strings.HasPrefix(line, "#") {
		return "", 0
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	text := strings.TrimSpace(line[level:])
	if text == "" {
		return "", 0
	}
	return text, level
}
