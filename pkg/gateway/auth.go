package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// MaxAuthAttempts is the number of bad signatures after which the connection is dropped.
	MaxAuthAttempts = 3
	// ChallengeTTL bounds how long a WebSocket client may take to answer its challenge.
	ChallengeTTL    = time.Minute

	challengeBytes = 32
)

// Sign returns the hex HMAC-SHA256 of challenge keyed by secret. Clients
// answer an auth.challenge with this value.
func Sign(secret, challenge string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator checks callers against the gateway's shared secret: an HMAC
// challenge for WebSocket clients, a plain header comparison for /rpc.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(sharedSecret string) *Authenticator {
	return &Authenticator{secret: []byte(sharedSecret), now: time.Now}
}

// Challenge issues a fresh nonce to client and moves it to StateAuthenticating.
func (a *Authenticator) Challenge(client *Client) (AuthChallenge, error) {
	nonce := make([]byte, challengeBytes)
	if _, err := rand.Read(nonce); err != nil {
		return AuthChallenge{}, fmt.Errorf("failed to generate challenge: %w", err)
	}

	client.Challenge = hex.EncodeToString(nonce)
	client.ChallengedAt = a.now()
	client.setState(StateAuthenticating)

	return AuthChallenge{Event: "auth.challenge", Challenge: client.Challenge}, nil
}

// Verify reports whether signature answers challenge.
func (a *Authenticator) Verify(challenge, signature string) bool {
	expected := Sign(string(a.secret), challenge)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// CheckSecret compares a secret presented directly in the /rpc header.
func (a *Authenticator) CheckSecret(secret string) bool {
	return subtle.ConstantTimeCompare(a.secret, []byte(secret)) == 1
}

// Respond settles client's pending challenge. A stale challenge or a bad
// signature counts as a failed attempt.
func (a *Authenticator) Respond(client *Client, signature string) AuthResult {
	if client.Challenge == "" {
		return authFailure("No challenge found")
	}

	switch {
	case a.now().Sub(client.ChallengedAt) > ChallengeTTL:
		client.AuthAttempts++
		client.Challenge = ""
		return authFailure("Challenge expired")
	case !a.Verify(client.Challenge, signature):
		client.AuthAttempts++
		if client.AuthAttempts >= MaxAuthAttempts {
			return authFailure("Too many failed attempts")
		}
		return authFailure("Invalid signature")
	}

	client.markAuthenticated()
	client.AuthAttempts = 0
	client.Challenge = ""
	return AuthResult{Event: "auth.success", Success: true}
}

func authFailure(reason string) AuthResult {
	return AuthResult{Event: "auth.failure", Message: reason}
}
