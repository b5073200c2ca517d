package blackboard

import (
	"maps"
	"slices"
	"time"
)

// DefaultMaxIterations is the revision cap used when a session does not set one.
const DefaultMaxIterations = 5

// now returns the current time without a monotonic reading so that states
// compare equal after a serialization round trip.
func now() time.Time {
	return time.Now().UTC()
}

// NewState seeds the initial state for a session.
// All quality fields are empty and the status is initializing.
func NewState(sessionID, intent string, maxIterations int) *State {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	ts := now()
	return &State{
		SessionID:     sessionID,
		UserIntent:    intent,
		Status:        StatusInitializing,
		DraftHistory:  []DraftRecord{},
		MaxIterations: maxIterations,
		AgentNotes:    []Note{},
		SafetyChecks:  map[string]bool{},
		CreatedAt:     ts,
		UpdatedAt:     ts,
		Metadata:      map[string]any{},
	}
}

// Normalize replaces nil collections with empty ones. Decoders call it so
// callers never have to nil-check before appending or indexing.
func (s *State) Normalize() {
	if s.DraftHistory == nil {
		s.DraftHistory = []DraftRecord{}
	}
	if s.AgentNotes == nil {
		s.AgentNotes = []Note{}
	}
	if s.SafetyChecks == nil {
		s.SafetyChecks = map[string]bool{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
}

// Touch refreshes UpdatedAt. Every mutation of the state must call it.
func (s *State) Touch() {
	s.UpdatedAt = now()
}

// AppendNote appends a note to the scratchpad. An empty target broadcasts the note.
func (s *State) AppendNote(author, text, target string, priority Priority) {
	if priority == "" {
		priority = PriorityInfo
	}

	s.AgentNotes = append(s.AgentNotes, Note{
		Author:    author,
		Text:      text,
		Target:    target,
		Priority:  priority,
		CreatedAt: now(),
	})
	s.Touch()
}

// AppendDraft records a new draft. The version is always CurrentVersion+1 and the
// record's iteration is the iteration counter at the time of the call.
// This is the only code path that advances CurrentVersion.
func (s *State) AppendDraft(content, author string, scores Scores, feedback []string) DraftRecord {
	if feedback == nil {
		feedback = []string{}
	}

	record := DraftRecord{
		Content:       content,
		Version:       s.CurrentVersion + 1,
		Iteration:     s.IterationCount,
		Author:        author,
		CreatedAt:     now(),
		SafetyScore:   scores.Safety,
		EmpathyScore:  scores.Empathy,
		ClinicalScore: scores.Clinical,
		Feedback:      feedback,
	}

	s.DraftHistory = append(s.DraftHistory, record)
	s.CurrentVersion = record.Version
	s.CurrentDraft = &content
	s.Touch()

	return record
}

// LatestNote returns the most recent note, or nil if there are none.
func (s *State) LatestNote() *Note {
	if len(s.AgentNotes) == 0 {
		return nil
	}
	n := s.AgentNotes[len(s.AgentNotes)-1]
	return &n
}

// NotesFor returns the notes addressed to target, including broadcasts.
func (s *State) NotesFor(target string) []Note {
	var out []Note
	for _, n := range s.AgentNotes {
		if n.Target == "" || n.Target == target {
			out = append(out, n)
		}
	}
	return out
}

// Draft returns the current draft content or the empty string.
func (s *State) Draft() string {
	if s.CurrentDraft == nil {
		return ""
	}
	return *s.CurrentDraft
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := *s
	c.CurrentDraft = clonePtr(s.CurrentDraft)
	c.HumanEdits = clonePtr(s.HumanEdits)
	c.SafetyScore = clonePtr(s.SafetyScore)
	c.EmpathyScore = clonePtr(s.EmpathyScore)
	c.ClinicalScore = clonePtr(s.ClinicalScore)
	c.AgentNotes = slices.Clone(s.AgentNotes)
	c.SafetyChecks = maps.Clone(s.SafetyChecks)
	c.Metadata = maps.Clone(s.Metadata)

	c.DraftHistory = make([]DraftRecord, len(s.DraftHistory))
	for i, d := range s.DraftHistory {
		d.SafetyScore = clonePtr(d.SafetyScore)
		d.EmpathyScore = clonePtr(d.EmpathyScore)
		d.ClinicalScore = clonePtr(d.ClinicalScore)
		d.Feedback = slices.Clone(d.Feedback)
		c.DraftHistory[i] = d
	}

	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
