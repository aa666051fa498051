// Package rag turns raw documents into indexed vector points and answers
// semantic queries over them.
//
// # Data flow
//
//	raw files → Ingestor (chunk → embed → upsert) → vector store
//	query text → Retriever (embed → exact search) → ranked passages
//
// The chunking policy is deterministic: fixed-length contiguous segments
// whose concatenation reconstructs the input exactly. CSV sources are
// chunked cell by cell so a retrieved passage always cites a single field.
//
// Ingestion is isolated per file: one file's failure never aborts its
// sibling files, and a failed embedding batch never leaves partial points
// in the store.
package rag
