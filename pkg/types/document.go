package types

import "strings"

// SourceKind identifies where a document was acquired from
type SourceKind string

const (
	// SourceRemote marks documents fetched from the FTP data source
	SourceRemote SourceKind = "ftp"
	// SourceLocal marks documents read from a local directory
	SourceLocal SourceKind = "local"
)

// Valid reports whether the kind is one of the known source kinds
func (k SourceKind) Valid() bool {
	return k == SourceRemote || k == SourceLocal
}

// Document is a single input item produced by a data source
type Document struct {
	Reference string // url front-matter value, may be empty
	Body      string
	Name      string // base file name
	Source    SourceKind
}

// IsBlank reports whether the document has no indexable text
func (d Document) IsBlank() bool {
	return strings.TrimSpace(d.Body) == ""
}

// Chunk is a bounded contiguous span of a document body
type Chunk struct {
	Text    string
	Ordinal int // 0-based position within the document
}

// Payload holds the non-vector columns stored next to each vector
type Payload struct {
	ChunkText string
	Reference string
	Name      string
	Source    SourceKind
}

// PayloadFor builds the payload stored for a chunk of the given document
func PayloadFor(doc Document, chunk Chunk) Payload {
	return Payload{
		ChunkText: chunk.Text,
		Reference: doc.Reference,
		Name:      doc.Name,
		Source:    doc.Source,
	}
}
