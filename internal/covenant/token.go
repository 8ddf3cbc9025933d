package covenant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// Token verification errors.
var (
	ErrTokenMalformed = errors.New("covenant: malformed preflight token")
	ErrTokenSignature = errors.New("covenant: preflight token signature mismatch")
	ErrTokenProject   = errors.New("covenant: preflight token issued for a different project")
	ErrTokenExpired   = errors.New("covenant: preflight token expired")
)

// Token is the signed payload of a preflight token.
type Token struct {
	SessionID   string    `json:"session_id"`
	ProjectPath string    `json:"project_path"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Nonce       string    `json:"nonce"`
}

// Signer issues and verifies preflight tokens. The master key lives in a
// memguard enclave; each project signs with HMAC(master, project path).
type Signer struct {
	master *memguard.Enclave
}

// NewSigner seals key into an enclave. The caller's slice is wiped. A nil
// or empty key generates a random 32-byte key, which invalidates tokens
// across restarts.
func NewSigner(key []byte) *Signer {
	if len(key) == 0 {
		return &Signer{master: memguard.NewEnclaveRandom(32)}
	}
	return &Signer{master: memguard.NewEnclave(key)}
}

// Issue signs a token for project valid for ttl from issuedAt.
func (s *Signer) Issue(sessionID, projectPath string, issuedAt time.Time, ttl time.Duration) (string, Token, error) {
	tok := Token{
		SessionID:   sessionID,
		ProjectPath: projectPath,
		IssuedAt:    issuedAt.UTC(),
		ExpiresAt:   issuedAt.Add(ttl).UTC(),
		Nonce:       uuid.NewString(),
	}
	payload, err := json.Marshal(tok)
	if err != nil {
		return "", Token{}, fmt.Errorf("covenant: encode token: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	sig, err := s.sign(projectPath, body)
	if err != nil {
		return "", Token{}, err
	}
	return body + "." + base64.RawURLEncoding.EncodeToString(sig), tok, nil
}

// Verify re-derives the signature and checks project and expiry at now.
// A token issued at T is accepted strictly before T+ttl.
func (s *Signer) Verify(raw, projectPath string, now time.Time) (*Token, error) {
	body, sigPart, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || body == "" || sigPart == "" {
		return nil, ErrTokenMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var tok Token
	if err := json.Unmarshal(payload, &tok); err != nil {
		return nil, ErrTokenMalformed
	}

	// The key is derived from the path the caller asked about, so a token
	// for another project fails the signature check as well.
	if tok.ProjectPath != projectPath {
		return nil, ErrTokenProject
	}
	want, err := s.sign(projectPath, body)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(sig, want) {
		return nil, ErrTokenSignature
	}
	if !now.Before(tok.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

func (s *Signer) sign(projectPath, body string) ([]byte, error) {
	lb, err := s.master.Open()
	if err != nil {
		return nil, fmt.Errorf("covenant: open key enclave: %w", err)
	}
	defer lb.Destroy()

	kdf := hmac.New(sha256.New, lb.Bytes())
	kdf.Write([]byte(projectPath))
	projectKey := kdf.Sum(nil)

	mac := hmac.New(sha256.New, projectKey)
	mac.Write([]byte(body))
	return mac.Sum(nil), nil
}
