package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Foundry instances to safely coexist on a single Redis server.
//
// Key pattern: foundry:{instance_name}:{entity}:{session_id}
// Channel pattern: foundry:{instance_name}:progress:{session_id}

// SessionKey returns the Redis key for a session's latest checkpoint hash.
// Pattern: foundry:{instance_name}:session:{session_id}
func SessionKey(instanceName, sessionID string) string {
	return fmt.Sprintf("foundry:%s:session:%s", instanceName, sessionID)
}

// SessionHistoryKey returns the Redis key for a session's snapshot log (a list of JSON states).
// Pattern: foundry:{instance_name}:session:{session_id}:history
func SessionHistoryKey(instanceName, sessionID string) string {
	return fmt.Sprintf("foundry:%s:session:%s:history", instanceName, sessionID)
}

// SessionIndexKey returns the Redis key for the ZSET of known sessions, scored by creation time.
// Pattern: foundry:{instance_name}:sessions
func SessionIndexKey(instanceName string) string {
	return fmt.Sprintf("foundry:%s:sessions", instanceName)
}

// ProgressChannel returns the Pub/Sub channel carrying a session's progress events.
// Pattern: foundry:{instance_name}:progress:{session_id}
func ProgressChannel(instanceName, sessionID string) string {
	return fmt.Sprintf("foundry:%s:progress:%s", instanceName, sessionID)
}
