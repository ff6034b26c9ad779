// Package memory contains concrete core.MemoryStore implementations and the
// patient memory hooks that inject and persist conversation memory around a run.
//
// Stores:
//   - InMemoryStore: process-local, token-overlap ranking; tests and demos
//   - SQLiteStore: durable, FTS5 ranked search, one file per data directory
//   - mem0.Client (subpackage): remote semantic memory server
//
// Every store is keyed by core.Namespace ("patient_{id}", "research_{id}")
// and never returns records of another namespace.
package memory
