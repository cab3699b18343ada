// Package vectorstore stores entry embeddings and answers nearest-neighbor
// queries over them.
//
// An Index holds Records keyed by "{uid}_{locale}". Each record carries the
// vector and a metadata map that is returned verbatim with every Match, so
// search results can be rendered without a second lookup.
//
// Two backends implement Index:
//
//   - ChromemIndex: embedded chromem-go, persisted to disk or held in memory.
//     Default; needs no external service.
//   - QdrantIndex: a Qdrant server over gRPC, for larger deployments.
//
// Filters restrict queries to records whose metadata field equals one of a
// set of values (an "IN" condition). Conditions on different fields are
// combined with AND.
//
// Usage:
//
//	idx, err := vectorstore.NewIndex(cfg.VectorStore, provider.Dimension(), logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	err = idx.Upsert(ctx, []vectorstore.Record{{ID: "blt1_en-us", Vector: v, Metadata: md}})
//	matches, err := idx.Query(ctx, q, 20, vectorstore.Filter{}.In("type", "product"))
package vectorstore
