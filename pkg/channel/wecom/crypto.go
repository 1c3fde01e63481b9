package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// The WeCom envelope pads plaintext to 32-byte blocks even though AES operates
// on 16-byte blocks. The trailing pad byte is authoritative: its value is the
// pad length and must fall in 1..32.
const padBlockSize = 32

const (
	saltLen      = 16
	lengthPrefix = 4
)

var errDecrypt = errors.New("wecom: decrypt failed")

// calculateSignature computes the WeCom request signature: the four inputs
// sorted lexicographically, concatenated without separator, SHA-1, hex.
func calculateSignature(token, timestamp, nonce, payload string) string {
	parts := []string{token, timestamp, nonce, payload}
	sort.Strings(parts)

	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// verifySignature checks a candidate signature against the computed one.
// It fails closed: any empty required input or empty candidate is invalid.
func verifySignature(token, timestamp, nonce, payload, candidate string) bool {
	if token == "" || timestamp == "" || nonce == "" || payload == "" || candidate == "" {
		return false
	}

	expected := calculateSignature(token, timestamp, nonce, payload)
	candidate = strings.ToLower(strings.TrimSpace(candidate))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}

// decodeAESKey base64-decodes an EncodingAESKey into a 32-byte AES key.
// WeCom distributes the key as 43 base64 chars without padding; both the
// padded and unpadded spellings are accepted.
func decodeAESKey(encodingAESKey string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey)
	if err != nil {
		key, err = base64.StdEncoding.DecodeString(encodingAESKey + "=")
	}
	if err != nil {
		return nil, fmt.Errorf("decode encoding aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encoding aes key must decode to 32 bytes, got %d", len(key))
	}

	return key, nil
}

// decryptMessage opens one encrypted envelope and returns the plaintext
// message body.
//
// Envelope layout after CBC decryption and unpadding:
// 16 random bytes | 4-byte big-endian length | message | corp id.
// The embedded corp id must match expectedCorpID exactly; a mismatch is a hard
// failure regardless of padding correctness. Every failure surfaces as the
// same decrypt error and no partial plaintext escapes.
func decryptMessage(encodingAESKey, ciphertextB64, expectedCorpID string) (string, error) {
	key, err := decodeAESKey(encodingAESKey)
	if err != nil {
		return "", errDecrypt
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", errDecrypt
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errDecrypt
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errDecrypt
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, key[:aes.BlockSize]).CryptBlocks(plain, ciphertext)

	plain, ok := stripPadding(plain)
	if !ok {
		return "", errDecrypt
	}
	if len(plain) < saltLen+lengthPrefix {
		return "", errDecrypt
	}

	msgLen := binary.BigEndian.Uint32(plain[saltLen : saltLen+lengthPrefix])
	bodyStart := saltLen + lengthPrefix
	if uint32(len(plain)-bodyStart) < msgLen {
		return "", errDecrypt
	}

	body := plain[bodyStart : bodyStart+int(msgLen)]
	corpID := string(plain[bodyStart+int(msgLen):])
	if corpID != expectedCorpID {
		return "", errDecrypt
	}

	return string(body), nil
}

// encryptMessage performs the inverse construction, used for the
// URL-verification echo round-trip.
func encryptMessage(encodingAESKey, plaintext, corpID string) (string, error) {
	key, err := decodeAESKey(encodingAESKey)
	if err != nil {
		return "", err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate envelope salt: %w", err)
	}

	body := []byte(plaintext)
	buf := make([]byte, 0, saltLen+lengthPrefix+len(body)+len(corpID)+padBlockSize)
	buf = append(buf, salt...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	buf = append(buf, corpID...)
	buf = applyPadding(buf)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	ciphertext := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, key[:aes.BlockSize]).CryptBlocks(ciphertext, buf)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Signature exposes signature calculation for debugging tools.
func Signature(token, timestamp, nonce, payload string) string {
	return calculateSignature(token, timestamp, nonce, payload)
}

// VerifySignature exposes signature checking for debugging tools.
func VerifySignature(token, timestamp, nonce, payload, candidate string) bool {
	return verifySignature(token, timestamp, nonce, payload, candidate)
}

// Decrypt exposes envelope decryption for debugging tools.
func Decrypt(encodingAESKey, ciphertextB64, expectedCorpID string) (string, error) {
	return decryptMessage(encodingAESKey, ciphertextB64, expectedCorpID)
}

// stripPadding removes the vendor padding, reading the pad length from the
// last byte. Out-of-range lengths are a padding error.
func stripPadding(plain []byte) ([]byte, bool) {
	if len(plain) == 0 {
		return nil, false
	}

	pad := int(plain[len(plain)-1])
	if pad < 1 || pad > padBlockSize || pad > len(plain) {
		return nil, false
	}

	return plain[:len(plain)-pad], true
}

// applyPadding pads to the vendor's 32-byte block, always appending at least
// one byte so the pad length survives the round trip.
func applyPadding(buf []byte) []byte {
	pad := padBlockSize - len(buf)%padBlockSize
	if pad == 0 {
		pad = padBlockSize
	}

	for i := 0; i < pad; i++ {
		buf = append(buf, byte(pad))
	}

	return buf
}
