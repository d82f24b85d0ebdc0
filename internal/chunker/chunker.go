package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

const (
	// DefaultMaxSize is the target maximum chunk length in characters
	DefaultMaxSize = 500

	// sentenceTerminators end a sentence fragment; the terminator stays with
	// the fragment it closes. Covers Japanese full-width punctuation, ASCII
	// punctuation and line breaks.
	sentenceTerminators = "。．！？!?\n"
)

// Chunker splits document text into bounded chunks at sentence boundaries
type Chunker struct {
	maxSize int
}

// New creates a new Chunker. A non-positive maxSize selects DefaultMaxSize.
func New(maxSize int) *Chunker {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Chunker{maxSize: maxSize}
}

// MaxSize returns the configured maximum chunk length in characters
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// Chunk splits text into chunks of at most MaxSize characters
func (c *Chunker) Chunk(text string) []types.Chunk {
	return Split(text, c.maxSize)
}

// ChunkDocument splits a document body into chunks
func (c *Chunker) ChunkDocument(doc types.Document) []types.Chunk {
	return Split(doc.Body, c.maxSize)
}

// Split splits text at sentence boundaries and greedily packs consecutive
// fragments into chunks of at most maxSize characters. A fragment longer than
// maxSize is emitted whole. Chunks are trimmed and empty chunks dropped.
func Split(text string, maxSize int) []types.Chunk {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	chunks := make([]types.Chunk, 0)
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		chunks = append(chunks, types.Chunk{Text: s, Ordinal: len(chunks)})
	}

	var buf strings.Builder
	bufLen := 0
	for _, fragment := range splitSentences(text) {
		fragLen := utf8.RuneCountInString(fragment)
		if bufLen+fragLen > maxSize && bufLen > 0 {
			emit(buf.String())
			buf.Reset()
			bufLen = 0
		}
		buf.WriteString(fragment)
		bufLen += fragLen
	}
	emit(buf.String())

	return chunks
}

// splitSentences cuts text after every sentence terminator. Concatenating the
// returned fragments yields the original text.
func splitSentences(text string) []string {
	fragments := make([]string, 0, strings.Count(text, "\n")+1)
	start := 0
	for i, r := range text {
		if strings.ContainsRune(sentenceTerminators, r) {
			end := i + utf8.RuneLen(r)
			fragments = append(fragments, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		fragments = append(fragments, text[start:])
	}
	return fragments
}
