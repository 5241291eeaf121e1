package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"hash"
	"strings"
)

// HashAlg is one of the two digest algorithms the controller may request for
// credential hashing.
type HashAlg string

const (
	HashSHA1   HashAlg = "SHA1"
	HashSHA256 HashAlg = "SHA256"
)

func (h HashAlg) new() func() hash.Hash {
	if h == HashSHA1 {
		return sha1.New
	}
	return sha256.New
}

// normalizePEM rewrites a Loxone public key blob into a parseable PEM PUBLIC
// KEY block. The controller sometimes wraps the key with CERTIFICATE
// markers, or omits PEM markers entirely.
func normalizePEM(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "-----BEGIN") {
		return "-----BEGIN PUBLIC KEY-----\n" + raw + "\n-----END PUBLIC KEY-----"
	}
	raw = strings.ReplaceAll(raw, "CERTIFICATE", "PUBLIC KEY")
	return raw
}

// parsePublicKey normalizes and parses a PEM-encoded RSA public key as
// returned by the controller.
func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(normalizePEM(raw)))
	if block == nil {
		return nil, fmt.Errorf("auth: no PEM block found in public key response")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not RSA")
	}
	return rsaPub, nil
}

// sessionKey is the ephemeral AES-256 key material generated for one
// handshake.
type sessionKey struct {
	key [32]byte
	iv  [16]byte
}

func newSessionKey() (sessionKey, error) {
	var sk sessionKey
	if _, err := rand.Read(sk.key[:]); err != nil {
		return sessionKey{}, fmt.Errorf("auth: generate session key: %w", err)
	}
	if _, err := rand.Read(sk.iv[:]); err != nil {
		return sessionKey{}, fmt.Errorf("auth: generate session iv: %w", err)
	}
	return sk, nil
}

// encryptForKeyExchange encrypts "<hex(key)>:<hex(iv)>" with the controller's
// RSA public key using PKCS#1 v1.5 and returns the base64-encoded ciphertext.
func (sk sessionKey) encryptForKeyExchange(pub *rsa.PublicKey) (string, error) {
	plain := fmt.Sprintf("%s:%s", hex.EncodeToString(sk.key[:]), hex.EncodeToString(sk.iv[:]))
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(plain))
	if err != nil {
		return "", fmt.Errorf("auth: rsa encrypt session key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// encryptCommand PKCS#7-pads and AES-256-CBC-encrypts the given command
// under the session key/IV, returning the base64-encoded ciphertext.
func (sk sessionKey) encryptCommand(command string) (string, error) {
	block, err := aes.NewCipher(sk.key[:])
	if err != nil {
		return "", fmt.Errorf("auth: aes cipher: %w", err)
	}
	padded := pkcs7Pad([]byte(command), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, sk.iv[:])
	mode.CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// hmacHex computes HMAC(key, message) under the given algorithm, returning
// lowercase hex.
func hmacHex(alg HashAlg, key, message []byte) string {
	mac := hmac.New(alg.new(), key)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// digestUpperHex computes H(message) under the given algorithm, returning
// uppercase hex (the controller's expected password-hash casing).
func digestUpperHex(alg HashAlg, message []byte) string {
	h := alg.new()()
	h.Write(message)
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}
