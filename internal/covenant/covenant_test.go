package covenant

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testGuard() *Guard {
	return &Guard{
		Policy: NewPolicy([]string{"health"}, []string{"recall"}, []string{"remember"}),
		Signer: NewSigner([]byte("0123456789abcdef0123456789abcdef")),
		TTL:    5 * time.Minute,
	}
}

func TestPolicy_ClassOf(t *testing.T) {
	p := NewPolicy([]string{"health"}, []string{"recall"}, []string{"remember"})
	assert.Equal(t, Exempt, p.ClassOf(OpSessionStart))
	assert.Equal(t, Exempt, p.ClassOf(OpConsult))
	assert.Equal(t, Exempt, p.ClassOf("health"))
	assert.Equal(t, SessionGated, p.ClassOf("recall"))
	assert.Equal(t, CounselGated, p.ClassOf("remember"))
	assert.Equal(t, CounselGated, p.ClassOf("drop_everything"), "unknown ops are gated most strictly")
}

func TestState_BriefIsIdempotent(t *testing.T) {
	var once, twice State
	once.Brief("s1", t0)
	twice.Brief("s1", t0)
	twice.Brief("s1", t0.Add(time.Minute))

	assert.True(t, once.Briefed)
	assert.True(t, twice.Briefed)
	assert.Equal(t, once.BriefedAt, twice.BriefedAt)
	assert.Equal(t, once.Snapshot(t0, time.Minute), twice.Snapshot(t0, time.Minute))
}

func TestState_StageTransitions(t *testing.T) {
	ttl := 5 * time.Minute
	var st State
	assert.Equal(t, Unbriefed, st.Stage(t0, ttl))

	st.Brief("s", t0)
	assert.Equal(t, Briefed, st.Stage(t0, ttl))

	st.Counsel(t0)
	assert.Equal(t, Counseled, st.Stage(t0.Add(ttl-time.Second), ttl))
	assert.Equal(t, Briefed, st.Stage(t0.Add(ttl+time.Second), ttl))
}

func TestState_ConsultationsAreBounded(t *testing.T) {
	st := State{Max: 3}
	for i := 0; i < 10; i++ {
		st.Counsel(t0.Add(time.Duration(i) * time.Second))
	}
	require.Len(t, st.Consultations, 3)
	last, _ := st.LastConsultation()
	assert.Equal(t, t0.Add(9*time.Second), last)
}

func TestSigner_ExpiryBoundary(t *testing.T) {
	s := NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	ttl := 5 * time.Minute
	raw, tok, err := s.Issue("sess", "/repo", t0, ttl)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(ttl), tok.ExpiresAt)

	got, err := s.Verify(raw, "/repo", t0.Add(ttl-time.Second))
	require.NoError(t, err)
	assert.Equal(t, "sess", got.SessionID)

	_, err = s.Verify(raw, "/repo", t0.Add(ttl+time.Second))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestSigner_RejectsTampering(t *testing.T) {
	s := NewSigner(nil)
	raw, _, err := s.Issue("sess", "/repo", t0, time.Minute)
	require.NoError(t, err)

	_, err = s.Verify(raw, "/other", t0)
	assert.ErrorIs(t, err, ErrTokenProject)

	body, sig, _ := strings.Cut(raw, ".")
	flipped := []byte(sig)
	if flipped[0] == 'A' {
		flipped[0] = 'B'
	} else {
		flipped[0] = 'A'
	}
	_, err = s.Verify(body+"."+string(flipped), "/repo", t0)
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = s.Verify("not-a-token", "/repo", t0)
	assert.ErrorIs(t, err, ErrTokenMalformed)

	other := NewSigner(nil)
	_, err = other.Verify(raw, "/repo", t0)
	assert.ErrorIs(t, err, ErrTokenSignature, "a different master key must not verify")
}

func TestSigner_NoncesDiffer(t *testing.T) {
	s := NewSigner(nil)
	a, _, _ := s.Issue("sess", "/repo", t0, time.Minute)
	b, _, _ := s.Issue("sess", "/repo", t0, time.Minute)
	assert.NotEqual(t, a, b)
}

func TestGuard_CommunionRequired(t *testing.T) {
	g := testGuard()
	var st State

	v := g.Check("remember", &st, "/repo", "", t0)
	require.NotNil(t, v)
	assert.Equal(t, CodeCommunionRequired, v.Code)
	assert.Contains(t, v.Remedy, OpSessionStart)
	assert.Equal(t, Unbriefed, v.State.Stage)

	v = g.Check("recall", &st, "/repo", "", t0)
	require.NotNil(t, v)
	assert.Equal(t, CodeCommunionRequired, v.Code)

	assert.Nil(t, g.Check("health", &st, "/repo", "", t0))
	assert.Nil(t, g.Check(OpSessionStart, &st, "/repo", "", t0))
}

func TestGuard_CounselRequired(t *testing.T) {
	g := testGuard()
	var st State
	st.Brief("s", t0)

	assert.Nil(t, g.Check("recall", &st, "/repo", "", t0))

	v := g.Check("remember", &st, "/repo", "", t0)
	require.NotNil(t, v)
	assert.Equal(t, CodeCounselRequired, v.Code)
	assert.Contains(t, v.Remedy, OpConsult)
	assert.Equal(t, Briefed, v.State.Stage)
}

func TestGuard_ConsultationWindow(t *testing.T) {
	g := testGuard()
	var st State
	st.Brief("s", t0)
	st.Counsel(t0)

	assert.Nil(t, g.Check("remember", &st, "/repo", "", t0.Add(g.TTL-time.Second)))
	v := g.Check("remember", &st, "/repo", "", t0.Add(g.TTL+time.Second))
	require.NotNil(t, v)
	assert.Equal(t, CodeCounselRequired, v.Code)
	assert.Contains(t, v.Message, "expired")
}

func TestGuard_TokenIsVerifiedOnEveryUse(t *testing.T) {
	g := testGuard()
	var st State
	st.Brief("s", t0)
	raw, _, err := g.Signer.Issue("s", "/repo", t0, g.TTL)
	require.NoError(t, err)

	assert.Nil(t, g.Check("remember", &st, "/repo", raw, t0.Add(g.TTL-time.Second)))

	v := g.Check("remember", &st, "/repo", raw, t0.Add(g.TTL+time.Second))
	require.NotNil(t, v)
	assert.Equal(t, CodeCounselRequired, v.Code)

	v = g.Check("remember", &st, "/elsewhere", raw, t0)
	require.NotNil(t, v)
	assert.Equal(t, CodeCounselRequired, v.Code)
}

func TestGuard_BadTokenIsNotRescuedByConsultation(t *testing.T) {
	g := testGuard()
	var st State
	st.Brief("s", t0)
	st.Counsel(t0)

	v := g.Check("remember", &st, "/repo", "forged.token", t0)
	require.NotNil(t, v)
	assert.Equal(t, CodeCounselRequired, v.Code)
}
