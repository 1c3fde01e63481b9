package wecom

import (
	"encoding/base64"
	"strings"
	"testing"
)

// testAESKey is 43 unpadded base64 chars decoding to 32 bytes, the format
// WeCom hands out.
const (
	testAESKey = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQ"
	testCorpID = "wx5215498741"
	testToken  = "callback-token"
)

func TestCalculateSignatureSortsInputs(t *testing.T) {
	t.Parallel()

	a := calculateSignature("token", "100", "nonce", "payload")
	b := calculateSignature("payload", "nonce", "100", "token")

	if a != b {
		t.Fatalf("signature should be order independent: %s != %s", a, b)
	}
	if len(a) != 40 {
		t.Fatalf("signature length = %d, want 40 hex chars", len(a))
	}
	if a != strings.ToLower(a) {
		t.Fatalf("signature should be lowercase hex: %s", a)
	}
}

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	sig := calculateSignature(testToken, "1700000000", "n1", "cipher")

	if !verifySignature(testToken, "1700000000", "n1", "cipher", sig) {
		t.Fatal("valid signature rejected")
	}
	if !verifySignature(testToken, "1700000000", "n1", "cipher", "  "+strings.ToUpper(sig)+" ") {
		t.Fatal("case and whitespace should be normalized before comparison")
	}
	if verifySignature(testToken, "1700000000", "n1", "cipher", "deadbeef") {
		t.Fatal("wrong signature accepted")
	}
	if verifySignature(testToken, "1700000001", "n1", "cipher", sig) {
		t.Fatal("tampered timestamp accepted")
	}
	if verifySignature("", "1700000000", "n1", "cipher", sig) {
		t.Fatal("empty token should fail closed")
	}
	if verifySignature(testToken, "1700000000", "n1", "cipher", "") {
		t.Fatal("empty candidate should fail closed")
	}
}

func TestDecodeAESKey(t *testing.T) {
	t.Parallel()

	key, err := decodeAESKey(testAESKey)
	if err != nil {
		t.Fatalf("decodeAESKey error: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("key length = %d, want 32", len(key))
	}

	if _, err := decodeAESKey("short"); err == nil {
		t.Fatal("short key should be rejected")
	}
	if _, err := decodeAESKey("!!!not-base64!!!"); err == nil {
		t.Fatal("invalid base64 should be rejected")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	plaintext := "<xml><Content><![CDATA[你好]]></Content></xml>"

	ciphertext, err := encryptMessage(testAESKey, plaintext, testCorpID)
	if err != nil {
		t.Fatalf("encryptMessage error: %v", err)
	}

	got, err := decryptMessage(testAESKey, ciphertext, testCorpID)
	if err != nil {
		t.Fatalf("decryptMessage error: %v", err)
	}
	if got != plaintext {
		t.Fatalf("round trip mismatch: got %q, want %q", got, plaintext)
	}
}

func TestDecryptRejectsCorpIDMismatch(t *testing.T) {
	t.Parallel()

	ciphertext, err := encryptMessage(testAESKey, "<xml/>", testCorpID)
	if err != nil {
		t.Fatalf("encryptMessage error: %v", err)
	}

	if _, err := decryptMessage(testAESKey, ciphertext, "other-corp"); err == nil {
		t.Fatal("corp id mismatch should fail")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	t.Parallel()

	ciphertext, err := encryptMessage(testAESKey, "<xml/>", testCorpID)
	if err != nil {
		t.Fatalf("encryptMessage error: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := decryptMessage(testAESKey, tampered, testCorpID); err == nil {
		t.Fatal("tampered ciphertext should fail")
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not base64":       "!!!",
		"empty":            "",
		"wrong block size": base64.StdEncoding.EncodeToString([]byte("short")),
	}

	for name, input := range cases {
		if _, err := decryptMessage(testAESKey, input, testCorpID); err == nil {
			t.Fatalf("%s: expected decrypt failure", name)
		}
	}
}

func TestStripPadding(t *testing.T) {
	t.Parallel()

	padded := applyPadding([]byte("hello"))
	if len(padded)%padBlockSize != 0 {
		t.Fatalf("padded length %d not a multiple of %d", len(padded), padBlockSize)
	}

	stripped, ok := stripPadding(padded)
	if !ok {
		t.Fatal("stripPadding rejected valid padding")
	}
	if string(stripped) != "hello" {
		t.Fatalf("stripped = %q, want %q", stripped, "hello")
	}

	if _, ok := stripPadding([]byte{0}); ok {
		t.Fatal("pad byte 0 should be rejected")
	}
	if _, ok := stripPadding([]byte{1, 2, 33}); ok {
		t.Fatal("pad byte above block size should be rejected")
	}
	if _, ok := stripPadding(nil); ok {
		t.Fatal("empty input should be rejected")
	}
}

func TestApplyPaddingAlwaysPads(t *testing.T) {
	t.Parallel()

	// An exact multiple still gets a full extra block so the pad byte survives.
	exact := make([]byte, padBlockSize)
	padded := applyPadding(exact)
	if len(padded) != 2*padBlockSize {
		t.Fatalf("padded length = %d, want %d", len(padded), 2*padBlockSize)
	}
	if padded[len(padded)-1] != padBlockSize {
		t.Fatalf("pad byte = %d, want %d", padded[len(padded)-1], padBlockSize)
	}
}
