package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Serialization helpers for converting between State and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Scalar fields are stored
// directly so they stay queryable with HGET; optional and complex fields are
// JSON-encoded into single hash fields ("null" marks an absent optional).

// StateToHash converts a State to a Redis hash.
func StateToHash(s *State) (map[string]interface{}, error) {
	jsonFields := map[string]interface{}{
		"current_draft":  s.CurrentDraft,
		"human_edits":    s.HumanEdits,
		"safety_score":   s.SafetyScore,
		"empathy_score":  s.EmpathyScore,
		"clinical_score": s.ClinicalScore,
		"draft_history":  s.DraftHistory,
		"agent_notes":    s.AgentNotes,
		"safety_checks":  s.SafetyChecks,
		"metadata":       s.Metadata,
	}

	hash := map[string]interface{}{
		"session_id":          s.SessionID,
		"user_intent":         s.UserIntent,
		"status":              string(s.Status),
		"active_step":         string(s.ActiveStep),
		"supervisor_decision": string(s.Decision),
		"current_version":     s.CurrentVersion,
		"iteration_count":     s.IterationCount,
		"max_iterations":      s.MaxIterations,
		"halted":              strconv.FormatBool(s.Halted),
		"human_approved":      strconv.FormatBool(s.HumanApproved),
		"created_at":          s.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":          s.UpdatedAt.Format(time.RFC3339Nano),
	}

	for field, value := range jsonFields {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", field, err)
		}
		hash[field] = string(encoded)
	}

	return hash, nil
}

// HashToState converts a Redis hash back to a State.
// Missing collection fields decode to empty collections rather than nil.
func HashToState(hash map[string]string) (*State, error) {
	s := &State{
		SessionID:  hash["session_id"],
		UserIntent: hash["user_intent"],
		Status:     Status(hash["status"]),
		ActiveStep: Step(hash["active_step"]),
		Decision:   SupervisorDecision(hash["supervisor_decision"]),
	}

	var err error
	if s.CurrentVersion, err = strconv.Atoi(hash["current_version"]); err != nil {
		return nil, fmt.Errorf("invalid current_version field: %w", err)
	}
	if s.IterationCount, err = strconv.Atoi(hash["iteration_count"]); err != nil {
		return nil, fmt.Errorf("invalid iteration_count field: %w", err)
	}
	if s.MaxIterations, err = strconv.Atoi(hash["max_iterations"]); err != nil {
		return nil, fmt.Errorf("invalid max_iterations field: %w", err)
	}

	s.Halted, _ = strconv.ParseBool(hash["halted"])
	s.HumanApproved, _ = strconv.ParseBool(hash["human_approved"])

	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, hash["created_at"]); err != nil {
		return nil, fmt.Errorf("invalid created_at field: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, hash["updated_at"]); err != nil {
		return nil, fmt.Errorf("invalid updated_at field: %w", err)
	}

	jsonFields := map[string]interface{}{
		"current_draft":  &s.CurrentDraft,
		"human_edits":    &s.HumanEdits,
		"safety_score":   &s.SafetyScore,
		"empathy_score":  &s.EmpathyScore,
		"clinical_score": &s.ClinicalScore,
		"draft_history":  &s.DraftHistory,
		"agent_notes":    &s.AgentNotes,
		"safety_checks":  &s.SafetyChecks,
		"metadata":       &s.Metadata,
	}
	for field, target := range jsonFields {
		raw := hash[field]
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), target); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field, err)
		}
	}

	// Ensure we have empty collections instead of nil for consistency
	s.Normalize()

	return s, nil
}
