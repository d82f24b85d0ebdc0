// Package indexer builds a vector index from a data source.
//
// # Basic Usage
//
//	idx := indexer.New(nil, chunker.New(500), cache, logger)
//
//	summary, err := idx.Build(ctx, source.NewLocal(dir, source.SkipOnItemError, logger), indexer.BuildOptions{
//	    Path: "data/index.db",
//	})
//
//	fmt.Printf("Indexed %d chunks from %d documents in %v\n",
//	    summary.ChunksIndexed, summary.Documents, summary.Duration)
//
// # Pipeline
//
//  1. Acquire: the data source yields documents one at a time
//  2. Chunk: each body is split on sentence terminators
//  3. Embed: chunks are embedded in concurrent batches, order preserved
//  4. Store: each document's chunks are written in one transaction
//
// A build writes to <path>.<uuid>.tmp and renames it over path only
// after every document is stored and the two tables agree. A failed or
// empty build leaves the previous index in place.
//
// Only one build runs per Indexer at a time; a concurrent call returns
// types.ErrBuildInProgress. Cancelling ctx stops the build between
// documents.
package indexer
