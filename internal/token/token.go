// Package token issues and verifies the short-lived HS256 bearer tokens that
// are the only credential a sandbox ever holds (§4.1/B).
//
// Implemented with stdlib crypto rather than a third-party JWT library: the
// claim set is fixed and small (sandboxId, sessionId, exp, iat), and nothing
// in the retrieval pack imports a JWT library even where one would fit
// (bureau-foundation-bureau's GitHub App authenticator hand-rolls an RS256
// JWT over crypto/rsa+crypto/sha256 for exactly this reason — see its doc
// comment: "stdlib crypto -- no external JWT library needed for this
// constrained use case"). HS256 over crypto/hmac is the same idiom applied
// to a symmetric key.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// headerJSON is the fixed JWT header this package produces and expects.
var headerJSON = []byte(`{"alg":"HS256","typ":"JWT"}`)

// Claims is the token payload (§3 "Token payload").
type Claims struct {
	SandboxID string `json:"sandboxId"`
	SessionID string `json:"sessionId,omitempty"`
	Exp       int64  `json:"exp"`
	Iat       int64  `json:"iat"`
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	Secret    string
	SandboxID string
	SessionID string
	// ExpiresIn is a duration expression: "{n}m", "{n}h", "{n}d", or a bare
	// number of seconds. Defaults to "2h" when empty.
	ExpiresIn string
}

// VerifyParams are the inputs to Verify.
type VerifyParams struct {
	Secret string
	Token  string
}

// Kind classifies a verification failure.
type Kind int

const (
	// KindExpired means the token parsed and verified but exp <= now.
	KindExpired Kind = iota
	// KindInvalid means the token is malformed, has a bad signature, or is
	// missing a required claim.
	KindInvalid
)

// VerifyError is returned by Verify on failure and carries the classified
// Kind so callers (the proxy) can map it to PROXY_TOKEN_EXPIRED vs
// PROXY_TOKEN_INVALID.
type VerifyError struct {
	Kind   Kind
	Reason string
}

func (e *VerifyError) Error() string {
	if e.Kind == KindExpired {
		return "token expired"
	}
	return fmt.Sprintf("invalid token: %s", e.Reason)
}

func invalid(reason string) *VerifyError { return &VerifyError{Kind: KindInvalid, Reason: reason} }

// Create issues a signed HS256 JWT carrying the given sandbox/session claims.
func Create(p CreateParams) (string, error) {
	if p.Secret == "" {
		return "", errors.New("token: secret must not be empty")
	}
	if p.SandboxID == "" {
		return "", errors.New("token: sandboxId must not be empty")
	}
	ttl, err := parseExpiresIn(p.ExpiresIn)
	if err != nil {
		return "", fmt.Errorf("token: %w", err)
	}

	now := time.Now().Unix()
	claims := Claims{
		SandboxID: p.SandboxID,
		SessionID: p.SessionID,
		Iat:       now,
		Exp:       now + ttl,
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("token: marshal claims: %w", err)
	}

	signingInput := base64URLEncode(headerJSON) + "." + base64URLEncode(claimsJSON)
	sig := sign(p.Secret, signingInput)
	return signingInput + "." + base64URLEncode(sig), nil
}

// Verify checks signature, algorithm, expiry, and required claims, returning
// the decoded payload on success.
func Verify(p VerifyParams) (Claims, error) {
	if p.Secret == "" {
		return Claims{}, invalid("secret must not be empty")
	}
	parts := strings.Split(p.Token, ".")
	if len(parts) != 3 {
		return Claims{}, invalid("malformed token: expected 3 segments")
	}

	headerBytes, err := base64URLDecode(parts[0])
	if err != nil {
		return Claims{}, invalid("malformed header: " + err.Error())
	}
	var hdr struct {
		Alg string `json:"alg"`
	}
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return Claims{}, invalid("malformed header JSON: " + err.Error())
	}
	if hdr.Alg != "HS256" {
		return Claims{}, invalid("unsupported algorithm " + hdr.Alg)
	}

	signingInput := parts[0] + "." + parts[1]
	gotSig, err := base64URLDecode(parts[2])
	if err != nil {
		return Claims{}, invalid("malformed signature: " + err.Error())
	}
	wantSig := sign(p.Secret, signingInput)
	if !hmac.Equal(gotSig, wantSig) {
		return Claims{}, invalid("bad signature")
	}

	payloadBytes, err := base64URLDecode(parts[1])
	if err != nil {
		return Claims{}, invalid("malformed payload: " + err.Error())
	}
	var raw map[string]any
	if err := json.Unmarshal(payloadBytes, &raw); err != nil {
		return Claims{}, invalid("malformed payload JSON: " + err.Error())
	}
	sandboxID, ok := raw["sandboxId"].(string)
	if !ok || sandboxID == "" {
		return Claims{}, invalid("missing sandboxId claim")
	}
	expF, ok := raw["exp"].(float64)
	if !ok {
		return Claims{}, invalid("missing exp claim")
	}
	iatF, ok := raw["iat"].(float64)
	if !ok {
		return Claims{}, invalid("missing iat claim")
	}
	sessionID, _ := raw["sessionId"].(string)

	claims := Claims{
		SandboxID: sandboxID,
		SessionID: sessionID,
		Exp:       int64(expF),
		Iat:       int64(iatF),
	}
	if claims.Exp <= time.Now().Unix() {
		return Claims{}, &VerifyError{Kind: KindExpired}
	}
	return claims, nil
}

func sign(secret, signingInput string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingInput))
	return mac.Sum(nil)
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// parseExpiresIn parses "{n}m|{n}h|{n}d" or a bare integer number of seconds.
// Empty input defaults to 2 hours, matching run_task's default proxy token
// lifetime (§4.4).
func parseExpiresIn(expr string) (int64, error) {
	if expr == "" {
		return int64((2 * time.Hour).Seconds()), nil
	}
	if n, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return n, nil
	}
	if len(expr) < 2 {
		return 0, fmt.Errorf("invalid expiresIn %q", expr)
	}
	unit := expr[len(expr)-1]
	n, err := strconv.ParseInt(expr[:len(expr)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid expiresIn %q", expr)
	}
	switch unit {
	case 'm':
		return n * 60, nil
	case 'h':
		return n * 3600, nil
	case 'd':
		return n * 86400, nil
	default:
		return 0, fmt.Errorf("invalid expiresIn unit in %q", expr)
	}
}
