// Package chunker divides document text into bounded chunks for embedding and search.
//
// Text is cut at sentence boundaries (。．！？!? and line breaks) and the
// resulting fragments are packed greedily: fragments are appended to the
// current chunk until the next one would push it past the size limit, at which
// point the chunk is closed and a new one starts with that fragment.
//
// # Basic Usage
//
//	c := chunker.New(500)
//	for _, chunk := range c.Chunk(body) {
//	    fmt.Printf("#%d: %d chars\n", chunk.Ordinal, utf8.RuneCountInString(chunk.Text))
//	}
//
// # Guarantees
//
//   - Every chunk is at most MaxSize characters, unless it is a single sentence
//     fragment that is itself longer (fragments are never cut mid-sentence)
//   - Identical input always yields an identical chunk sequence
//   - Chunks are trimmed of surrounding whitespace; empty chunks are dropped
//   - Joining the chunks reproduces the original text apart from the trimmed
//     whitespace at chunk boundaries
//
// Sizes are counted in characters (runes), not bytes, so multi-byte scripts get
// the same budget as ASCII text.
package chunker
