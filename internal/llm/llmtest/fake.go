// Package llmtest provides in-memory chat and embedder fakes for tests.
package llmtest

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"
)

// FakeChat answers prompts from a scripted list of responses, falling back
// to Default. It records every prompt it receives.
type FakeChat struct {
	mu        sync.Mutex
	Responses []string
	Default   string
	Err       error

	Prompts []string
	Systems []string
}

// Complete pops the next scripted response.
func (f *FakeChat) Complete(_ context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.Prompts = append(f.Prompts, prompt)
	f.Systems = append(f.Systems, system)
	if len(f.Responses) > 0 {
		resp := f.Responses[0]
		f.Responses = f.Responses[1:]
		return resp, nil
	}
	return f.Default, nil
}

// LastPrompt returns the most recent prompt, or "".
func (f *FakeChat) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Prompts) == 0 {
		return ""
	}
	return f.Prompts[len(f.Prompts)-1]
}

// FakeEmbedder produces deterministic unit vectors derived from the input
// text, so identical texts land on identical vectors and similar tests are
// reproducible. Dim defaults to 8.
type FakeEmbedder struct {
	Dim int
	Err error
}

func (f *FakeEmbedder) dim() int {
	if f.Dim <= 0 {
		return 8
	}
	return f.Dim
}

// EmbedQuery hashes the text into a deterministic unit vector.
func (f *FakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.vector(text), nil
}

// EmbedDocuments embeds each text independently.
func (f *FakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *FakeEmbedder) vector(text string) []float32 {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(text))))
	dim := f.dim()
	v := make([]float32, dim)
	var norm float64
	for i := 0; i < dim; i++ {
		bits := binary.BigEndian.Uint32(sum[(i*4)%28 : (i*4)%28+4])
		val := float64(bits%2000)/1000.0 - 1.0
		v[i] = float32(val)
		norm += val * val
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
