package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn implements Conn as a scripted queue of expected command/response
// pairs, matching commands by prefix since encrypted payloads are not
// predictable ahead of time.
type fakeConn struct {
	t        *testing.T
	handlers []func(cmd string) (string, bool)
	lastCmd  string
}

func (f *fakeConn) SendText(_ context.Context, msg string) error {
	f.t.Logf("-> %s", msg)
	f.lastCmd = msg
	return nil
}

func (f *fakeConn) RecvText(_ context.Context) (string, error) {
	for _, h := range f.handlers {
		if resp, ok := h(f.lastCmd); ok {
			return resp, nil
		}
	}
	return "", fmt.Errorf("fakeConn: no handler matched command %q", f.lastCmd)
}

func TestTokenAuthHappyPath(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	userSalt := "abcd"
	key2Key := hex.EncodeToString([]byte("serverkeymaterial"))

	conn := &fakeConn{t: t}
	conn.handlers = []func(string) (string, bool){
		respondTo("jdev/sys/getPublicKey", fmt.Sprintf(`{"LL":{"Code":"200","value":%q}}`, string(pubPEM))),
		respondTo("jdev/sys/keyexchange/", `{"LL":{"Code":"200","value":"ok"}}`),
		respondTo("jdev/sys/getkey2/", fmt.Sprintf(`{"LL":{"Code":"200","value":{"key":%q,"salt":%q,"hashAlg":"SHA256"}}}`, key2Key, userSalt)),
		respondTo("jdev/sys/enc/", `{"LL":{"Code":"200","value":{"token":"tok123","validUntil":1}}}`),
	}

	err = Authenticate(context.Background(), conn, Options{
		Username:   "alice",
		Password:   "s3cret",
		ClientUUID: "11111111-1111-1111-1111-111111111111",
		ClientName: "loxone-exporter",
	})
	assert.NoError(t, err)
}

func TestTokenAuthFallsBackToLegacy(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.handlers = []func(string) (string, bool){
		respondTo("jdev/sys/getPublicKey", `{"LL":{"Code":"500","value":""}}`),
		respondTo("jdev/sys/getkey", `{"LL":{"Code":"200","value":"aabbccdd"}}`),
		respondTo("authenticate/", `{"LL":{"Code":"200","value":"ok"}}`),
	}

	err := Authenticate(context.Background(), conn, Options{
		Username: "bob",
		Password: "hunter2",
	})
	assert.NoError(t, err)
}

func TestAuthFailsTerminal(t *testing.T) {
	conn := &fakeConn{t: t}
	conn.handlers = []func(string) (string, bool){
		respondTo("jdev/sys/getPublicKey", `{"LL":{"Code":"500","value":""}}`),
		respondTo("jdev/sys/getkey", `{"LL":{"Code":"500","value":""}}`),
	}

	err := Authenticate(context.Background(), conn, Options{Username: "x", Password: "y"})
	require.Error(t, err)
	var af *AuthFailed
	assert.ErrorAs(t, err, &af)
}

func TestPEMNormalization(t *testing.T) {
	raw := "MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8A"
	normalized := normalizePEM(raw)
	assert.True(t, strings.HasPrefix(normalized, "-----BEGIN PUBLIC KEY-----"))

	cert := "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----"
	normalized = normalizePEM(cert)
	assert.Contains(t, normalized, "PUBLIC KEY")
	assert.NotContains(t, normalized, "CERTIFICATE")
}

func TestBase64SanityForEncryptedCommand(t *testing.T) {
	// encryptCommand output must be valid standard base64 so PathEscape
	// round trips cleanly through a URL segment.
	sk, err := newSessionKey()
	require.NoError(t, err)
	enc, err := sk.encryptCommand("salt/deadbeef/jdev/sys/getjwt/abc\x00")
	require.NoError(t, err)
	_, err = base64.StdEncoding.DecodeString(enc)
	assert.NoError(t, err)
}

func respondTo(prefix, resp string) func(string) (string, bool) {
	return func(cmd string) (string, bool) {
		if strings.HasPrefix(cmd, prefix) {
			return resp, true
		}
		return "", false
	}
}
