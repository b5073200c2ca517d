// Package blackboard provides type-safe Go definitions and Redis schema patterns
// for the Foundry blackboard.
//
// # Overview
//
// The blackboard is the single shared record that all orchestration steps
// (draft, safety review, clinical critique, supervise) read and write. It is
// checkpointed after every step so a session can be suspended indefinitely and
// resumed exactly where it left off, including across process restarts.
//
// # Core Concepts
//
// State is the per-session record. Its draft history and note scratchpad are
// append-only and must only be grown through AppendDraft and AppendNote, which
// keep versions contiguous and stamp UpdatedAt.
//
// ProgressEvent is what observers see while a run is in flight: one event per
// persisted step followed by exactly one final event (halted, complete or error).
//
// # Redis Schema
//
// Latest checkpoint: foundry:{instance_name}:session:{session_id} (hash)
// Snapshot log: foundry:{instance_name}:session:{session_id}:history (list of JSON)
// Session index: foundry:{instance_name}:sessions (ZSET scored by created_at ms)
//
// Pub/Sub channel: foundry:{instance_name}:progress:{session_id}
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	state := blackboard.NewState(uuid.NewString(), "write a discharge plan", 3)
//	if err := client.PutState(ctx, state.SessionID, state); err != nil {
//		log.Fatal(err)
//	}
package blackboard
