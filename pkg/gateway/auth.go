package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// maxAuthAttempts is how many bad signatures a connection may send before it
// is closed.
const maxAuthAttempts = 3

// challengeBytes of randomness, sent hex encoded.
const challengeBytes = 32

// SignChallenge returns the hex HMAC-SHA256 of challenge keyed by secret.
func SignChallenge(secret, challenge string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

func newChallenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// authenticator checks websocket handshakes and HTTP secret headers against
// one shared secret.
type authenticator struct {
	secret string
}

func newAuthenticator(secret string) *authenticator {
	return &authenticator{secret: secret}
}

func (a *authenticator) verify(challenge, signature string) bool {
	want := SignChallenge(a.secret, challenge)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (a *authenticator) checkSecret(given string) bool {
	return subtle.ConstantTimeCompare([]byte(a.secret), []byte(given)) == 1
}

// issue stores a fresh challenge on c and returns the frame announcing it.
func (a *authenticator) issue(c *Client) (ChallengeFrame, error) {
	challenge, err := newChallenge()
	if err != nil {
		return ChallengeFrame{}, err
	}

	c.mu.Lock()
	c.challenge = challenge
	c.mu.Unlock()

	return ChallengeFrame{Event: FrameAuthChallenge, Challenge: challenge}, nil
}

// answer checks signature against c's pending challenge. exhausted reports
// that c has used up its attempts and should be disconnected.
func (a *authenticator) answer(c *Client, signature string) (reply AuthReply, exhausted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.challenge == "" {
		return AuthReply{Event: FrameAuthFailure, Message: "No challenge found"}, false
	}

	if !a.verify(c.challenge, signature) {
		c.failures++
		if c.failures >= maxAuthAttempts {
			return AuthReply{Event: FrameAuthFailure, Message: "Too many failed attempts"}, true
		}
		return AuthReply{Event: FrameAuthFailure, Message: "Invalid signature"}, false
	}

	c.authenticated = true
	c.challenge = ""
	c.failures = 0
	return AuthReply{Event: FrameAuthSuccess, Success: true}, false
}
