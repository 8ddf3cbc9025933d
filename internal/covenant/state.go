package covenant

import "time"

// Stage is the derived protocol state.
type Stage string

const (
	Unbriefed Stage = "UNBRIEFED"
	Briefed   Stage = "BRIEFED"
	Counseled Stage = "COUNSELED"
)

// DefaultMaxConsultations bounds the recent consultation list.
const DefaultMaxConsultations = 10

// State is one project's covenant state. It is not safe for concurrent
// use.
type State struct {
	Briefed       bool
	SessionID     string
	BriefedAt     time.Time
	Consultations []time.Time // issue times, oldest first
	Max           int
}

// Brief marks the session as started. Repeating it is idempotent apart
// from the session id and time, which track the latest call.
func (s *State) Brief(sessionID string, now time.Time) {
	if !s.Briefed || s.BriefedAt.IsZero() {
		s.BriefedAt = now
	}
	s.Briefed = true
	if sessionID != "" {
		s.SessionID = sessionID
	}
}

// Counsel records a consultation at now, dropping the oldest entries
// beyond the bound.
func (s *State) Counsel(now time.Time) {
	max := s.Max
	if max <= 0 {
		max = DefaultMaxConsultations
	}
	s.Consultations = append(s.Consultations, now)
	if n := len(s.Consultations); n > max {
		s.Consultations = append([]time.Time(nil), s.Consultations[n-max:]...)
	}
}

// LastConsultation returns the newest consultation time, if any.
func (s *State) LastConsultation() (time.Time, bool) {
	if len(s.Consultations) == 0 {
		return time.Time{}, false
	}
	return s.Consultations[len(s.Consultations)-1], true
}

// Counseled reports whether the newest consultation is still inside ttl
// at now. A consultation issued at T is live strictly before T+ttl.
func (s *State) Counseled(now time.Time, ttl time.Duration) bool {
	last, ok := s.LastConsultation()
	return ok && now.Before(last.Add(ttl))
}

// Stage derives the protocol stage at now.
func (s *State) Stage(now time.Time, ttl time.Duration) Stage {
	switch {
	case !s.Briefed:
		return Unbriefed
	case s.Counseled(now, ttl):
		return Counseled
	default:
		return Briefed
	}
}

// Snapshot is a serializable view of State.
type Snapshot struct {
	Stage              Stage      `json:"stage"`
	Briefed            bool       `json:"briefed"`
	SessionID          string     `json:"session_id,omitempty"`
	LastConsultation   *time.Time `json:"last_consultation,omitempty"`
	ConsultationExpiry *time.Time `json:"consultation_expires_at,omitempty"`
	Consultations      int        `json:"recent_consultations"`
}

// Snapshot captures the state at now.
func (s *State) Snapshot(now time.Time, ttl time.Duration) Snapshot {
	snap := Snapshot{
		Stage:         s.Stage(now, ttl),
		Briefed:       s.Briefed,
		SessionID:     s.SessionID,
		Consultations: len(s.Consultations),
	}
	if last, ok := s.LastConsultation(); ok {
		exp := last.Add(ttl)
		snap.LastConsultation = &last
		snap.ConsultationExpiry = &exp
	}
	return snap
}
