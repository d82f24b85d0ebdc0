// Package types provides shared type definitions for the vecsearch MCP server.
//
// This package defines the domain types used across the ingestion and query
// paths: documents acquired from a data source, the chunks derived from them,
// the payload persisted next to every vector, and the results handed back to
// callers of search.
//
// # Core Types
//
// Document is one Markdown file as produced by a data source:
//
//	doc := types.Document{
//	    Reference: "https://example.com/handbook/grades",
//	    Body:      body,
//	    Name:      "grades.md",
//	    Source:    types.SourceLocal,
//	}
//
// Chunk is a bounded span of a document body, the unit that gets embedded:
//
//	chunk := types.Chunk{Text: "Grades are published in March.", Ordinal: 0}
//
// # Search Results
//
// QueryResult carries the payload of one matching row and its distance.
// Smaller distances indicate closer matches; result slices are always
// ordered by ascending distance.
//
// SearchResponse is the envelope returned across the tool boundary. A failed
// search never surfaces as a crash; it becomes an envelope with Error set and
// an empty Results slice:
//
//	{"error": "search failed: ...", "results": []}
//
// # Errors
//
// errors.go holds the error taxonomy shared by all packages. Callers match
// with errors.Is against the sentinels (ErrStoreUnavailable,
// ErrDimensionMismatch, ...) or errors.As against the typed errors
// (*AcquisitionError, *DimensionError).
package types
