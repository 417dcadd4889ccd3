// Package storage defines the persistence contract for threads, messages,
// credentials, the audit log and the model catalog cache, plus the sentinel
// errors shared by the adapters (memory, postgres).
//
// Messages are append-only. AppendMessage is idempotent on
// (thread, request id, role): when a message with the same triple exists it
// is returned unchanged instead of inserting a second row.
package storage
