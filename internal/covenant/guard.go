package covenant

import (
	"fmt"
	"time"
)

// Violation codes.
const (
	CodeCommunionRequired = "COMMUNION_REQUIRED"
	CodeCounselRequired   = "COUNSEL_REQUIRED"
)

// Violation is a refused gated operation. The operation's side effects
// never ran.
type Violation struct {
	Code    string   `json:"code"`
	Op      string   `json:"op"`
	Message string   `json:"message"`
	Remedy  string   `json:"remedy"`
	State   Snapshot `json:"state"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Guard decides whether an operation may run in a given state.
type Guard struct {
	Policy *Policy
	Signer *Signer
	TTL    time.Duration
}

// Check returns nil when op may run, or the violation to report.
// token is the optional preflight token supplied with the request. When
// present it must verify for project at now; when absent the newest
// recorded consultation must still be live.
func (g *Guard) Check(op string, st *State, project, token string, now time.Time) *Violation {
	class := g.Policy.ClassOf(op)
	if class == Exempt {
		return nil
	}
	if !st.Briefed {
		return &Violation{
			Code:    CodeCommunionRequired,
			Op:      op,
			Message: fmt.Sprintf("%s requires a started session for this project", op),
			Remedy:  fmt.Sprintf("Call %s with this project_path first, then retry %s.", OpSessionStart, op),
			State:   st.Snapshot(now, g.TTL),
		}
	}
	if class == SessionGated {
		return nil
	}

	if token != "" {
		if _, err := g.Signer.Verify(token, project, now); err != nil {
			return &Violation{
				Code:    CodeCounselRequired,
				Op:      op,
				Message: fmt.Sprintf("preflight token rejected: %v", err),
				Remedy:  fmt.Sprintf("Call %s describing the intended change to obtain a fresh preflight_token, then retry %s.", OpConsult, op),
				State:   st.Snapshot(now, g.TTL),
			}
		}
		return nil
	}

	if st.Counseled(now, g.TTL) {
		return nil
	}
	msg := fmt.Sprintf("%s requires a consultation within the last %s", op, g.TTL)
	if last, ok := st.LastConsultation(); ok {
		msg = fmt.Sprintf("%s; the last consultation expired at %s", msg, last.Add(g.TTL).UTC().Format(time.RFC3339))
	}
	return &Violation{
		Code:    CodeCounselRequired,
		Op:      op,
		Message: msg,
		Remedy:  fmt.Sprintf("Call %s describing the intended change, then retry %s (optionally passing the returned preflight_token).", OpConsult, op),
		State:   st.Snapshot(now, g.TTL),
	}
}
