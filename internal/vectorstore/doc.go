// Package vectorstore provides the tenant-scoped vector index.
//
// A single collection holds the chunks of every tenant. Each point carries
// the payload {tenant_id, doc_id, filename, page, chunk_index, text}; reads,
// listings and deletions are always filtered by tenant_id, so a missing
// tenant is rejected with ErrMissingTenant rather than widening the scope.
//
// Two backends implement Index:
//   - QdrantIndex: external Qdrant over gRPC. tenant_id is a keyword
//     payload index marked is_tenant, doc_id a plain keyword index.
//   - ChromemIndex: embedded chromem-go, persistent or in memory. Used for
//     single-node deployments and tests.
//
// Usage:
//
//	idx, err := vectorstore.NewIndex(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer idx.Close()
//
//	if err := idx.EnsureSchema(ctx); err != nil {
//	    return err
//	}
//	n, err := idx.Upsert(ctx, "u1", "a.pdf", "a.pdf", chunks)
//	results, err := idx.Search(ctx, "u1", queryVec, 5, "")
//
// Transport and schema failures wrap ErrIndexUnavailable. An empty tenant
// corpus is not a failure: Search returns an empty slice.
package vectorstore
