package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
)

// Headers carried by a key sync request.
const (
	HeaderToken     = "Auth-Token"
	HeaderTimestamp = "Auth-Timestamp"
	HeaderNonce     = "Auth-Nonce"
	HeaderSignature = "Auth-Signature"
)

// DefaultNonceLength is how many bytes of a nonce take part in signing and replay tracking.
const DefaultNonceLength = 32

// TruncateNonce cuts nonce to at most max bytes.
func TruncateNonce(nonce string, max int) string {
	if max > 0 && len(nonce) > max {
		return nonce[:max]
	}
	return nonce
}

// SigningString joins the request fields with '&'. The body is appended
// only when it is non-empty.
func SigningString(token, timestamp, nonce, method, path string, body []byte) string {
	var b strings.Builder
	b.Grow(len(token) + len(timestamp) + len(nonce) + len(method) + len(path) + len(body) + 5)
	for i, part := range []string{token, timestamp, nonce, method, path} {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(part)
	}
	if len(body) > 0 {
		b.WriteByte('&')
		b.Write(body)
	}
	return b.String()
}

// Sign returns the standard base64 encoding of HMAC-SHA256(secret, signingString).
func Sign(secret, signingString string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signingString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the expected signature with the supplied one in constant time.
func VerifySignature(secret, signingString, signature string) bool {
	expected := Sign(secret, signingString)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SyncHeaders builds the four authentication headers for a sync request.
// The nonce is truncated before signing so that the server computes the
// same string.
func SyncHeaders(token, secret string, unixTime int64, nonce, method, path string, body []byte) map[string]string {
	nonce = TruncateNonce(nonce, DefaultNonceLength)
	ts := strconv.FormatInt(unixTime, 10)
	return map[string]string{
		HeaderToken:     token,
		HeaderTimestamp: ts,
		HeaderNonce:     nonce,
		HeaderSignature: Sign(secret, SigningString(token, ts, nonce, method, path, body)),
	}
}
