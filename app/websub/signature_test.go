package websub

import (
	"strings"
	"testing"
)

func TestSign_SHA256Format(t *testing.T) {
	header, err := Sign(AlgorithmSHA256, "secret-key", []byte("payload"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if !strings.HasPrefix(header, "sha256=") {
		t.Errorf("Expected sha256= prefix, got %s", header)
	}

	// 32-byte digest hex encoded
	if len(header) != len("sha256=")+64 {
		t.Errorf("Expected 64 hex chars after prefix, got %d", len(header)-len("sha256="))
	}
}

func TestSign_UnsupportedAlgorithm(t *testing.T) {
	if _, err := Sign("md5", "secret", []byte("payload")); err == nil {
		t.Errorf("Expected error for unsupported algorithm")
	}
}

func TestValidateSignature_Valid(t *testing.T) {
	body := []byte("<rss><channel><item/></channel></rss>")

	for _, algorithm := range []string{AlgorithmSHA1, AlgorithmSHA256} {
		header, err := Sign(algorithm, "shared-secret", body)
		if err != nil {
			t.Fatalf("Sign failed for %s: %v", algorithm, err)
		}

		if err := ValidateSignature(header, algorithm, "shared-secret", body); err != nil {
			t.Errorf("Valid %s signature rejected: %v", algorithm, err)
		}
	}
}

func TestValidateSignature_UppercaseDigestAccepted(t *testing.T) {
	body := []byte("payload")
	header, err := Sign(AlgorithmSHA256, "shared-secret", body)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	algo, digest, _ := strings.Cut(header, "=")
	upper := algo + "=" + strings.ToUpper(digest)

	if err := ValidateSignature(upper, AlgorithmSHA256, "shared-secret", body); err != nil {
		t.Errorf("Uppercase hex digest should validate: %v", err)
	}
}

func TestValidateSignature_TamperedBody(t *testing.T) {
	header, err := Sign(AlgorithmSHA256, "shared-secret", []byte("original body"))
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := ValidateSignature(header, AlgorithmSHA256, "shared-secret", []byte("tampered body")); err == nil {
		t.Errorf("Expected rejection of tampered body")
	}
}

func TestValidateSignature_FlippedDigestByte(t *testing.T) {
	body := []byte("payload")
	header, err := Sign(AlgorithmSHA256, "shared-secret", body)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	// Flip the last hex character of the digest
	last := header[len(header)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	tampered := header[:len(header)-1] + string(flipped)

	if err := ValidateSignature(tampered, AlgorithmSHA256, "shared-secret", body); err == nil {
		t.Errorf("Expected rejection of flipped digest byte")
	}
}

func TestValidateSignature_WrongSecret(t *testing.T) {
	body := []byte("payload")
	header, err := Sign(AlgorithmSHA256, "secret-a", body)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	if err := ValidateSignature(header, AlgorithmSHA256, "secret-b", body); err == nil {
		t.Errorf("Expected rejection when secrets differ")
	}
}

func TestValidateSignature_AlgorithmMismatch(t *testing.T) {
	body := []byte("payload")
	header, err := Sign(AlgorithmSHA1, "shared-secret", body)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}

	// Configured for sha256, hub sent sha1
	if err := ValidateSignature(header, AlgorithmSHA256, "shared-secret", body); err == nil {
		t.Errorf("Expected rejection of algorithm mismatch")
	}
}

func TestValidateSignature_MalformedHeader(t *testing.T) {
	cases := []string{"", "sha256", "garbage-without-equals"}

	for _, header := range cases {
		if err := ValidateSignature(header, AlgorithmSHA256, "secret", []byte("body")); err == nil {
			t.Errorf("Expected rejection of malformed header %q", header)
		}
	}
}

func TestGenerateToken_LengthAndUniqueness(t *testing.T) {
	a := generateToken(16)
	b := generateToken(16)

	if len(a) != 32 {
		t.Errorf("Expected 32 hex chars for 16 bytes, got %d", len(a))
	}
	if a == b {
		t.Errorf("Two generated tokens should not collide")
	}
}
