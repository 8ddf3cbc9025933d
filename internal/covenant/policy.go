// Package covenant enforces the session workflow: start a session
// (communion), consult before acting (counsel), then mutate.
//
// The package is pure: it holds no locks and performs no I/O. Callers own
// a State per project and guard it with their own mutex.
package covenant

// Class is an operation's gating class.
type Class string

const (
	// Exempt operations run in any state.
	Exempt Class = "exempt"
	// SessionGated operations require a started session.
	SessionGated Class = "session"
	// CounselGated operations require a started session and a live
	// consultation.
	CounselGated Class = "counsel"
)

// Operation names with a fixed role in the workflow.
const (
	OpSessionStart = "get_briefing"
	OpConsult      = "context_check"
)

// Policy maps operation names to classes. It is fixed at startup.
type Policy struct {
	classes map[string]Class
}

// NewPolicy builds a policy. Operations not listed are CounselGated.
func NewPolicy(exempt, sessionGated, counselGated []string) *Policy {
	p := &Policy{classes: make(map[string]Class)}
	for _, op := range counselGated {
		p.classes[op] = CounselGated
	}
	for _, op := range sessionGated {
		p.classes[op] = SessionGated
	}
	for _, op := range exempt {
		p.classes[op] = Exempt
	}
	p.classes[OpSessionStart] = Exempt
	p.classes[OpConsult] = Exempt
	return p
}

// ClassOf returns the class of op. Unknown operations are treated as
// CounselGated.
func (p *Policy) ClassOf(op string) Class {
	if c, ok := p.classes[op]; ok {
		return c
	}
	return CounselGated
}

// Ops returns every operation with an explicit class.
func (p *Policy) Ops() map[string]Class {
	out := make(map[string]Class, len(p.classes))
	for k, v := range p.classes {
		out[k] = v
	}
	return out
}
