package websub

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// Signature algorithms accepted on hub notifications.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
)

// Sign computes the hub signature header value for a payload, in the
// `algorithm=hexdigest` format used by X-Hub-Signature.
func Sign(algorithm, secret string, body []byte) (string, error) {
	mac, err := newMAC(algorithm, secret)
	if err != nil {
		return "", err
	}

	mac.Write(body)
	return fmt.Sprintf("%s=%s", algorithm, hex.EncodeToString(mac.Sum(nil))), nil
}

// ValidateSignature checks a hub signature header against the payload.
// The header algorithm must match the configured one; the digest comparison
// is constant-time.
func ValidateSignature(header, algorithm, secret string, body []byte) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	algo, digest, found := strings.Cut(header, "=")
	if !found {
		return fmt.Errorf("malformed signature header")
	}

	if algo != algorithm {
		return fmt.Errorf("unsupported signature algorithm: %s", algo)
	}

	mac, err := newMAC(algo, secret)
	if err != nil {
		return err
	}

	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(digest))) {
		return fmt.Errorf("signature mismatch")
	}

	return nil
}

func newMAC(algorithm, secret string) (hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA1:
		return hmac.New(sha1.New, []byte(secret)), nil
	case AlgorithmSHA256:
		return hmac.New(sha256.New, []byte(secret)), nil
	default:
		return nil, fmt.Errorf("unsupported signature algorithm: %s", algorithm)
	}
}

// generateToken returns a random hex string of byteLength entropy bytes.
func generateToken(byteLength int) string {
	b := make([]byte, byteLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
