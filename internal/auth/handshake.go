package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
)

// Conn is the minimal command transport the handshake engine needs from a
// Miniserver WebSocket connection: send a text command, and receive the next
// text response frame. The session package supplies the real implementation;
// tests supply a fake.
type Conn interface {
	SendText(ctx context.Context, msg string) error
	RecvText(ctx context.Context) (string, error)
}

// PubKeyFetcher performs the HTTP Basic-Auth fallback fetch of the RSA
// public key when the in-band socket command is refused. It is nil when no
// HTTP endpoint is configured.
type PubKeyFetcher func(ctx context.Context) (string, error)

// Options configures one handshake attempt.
type Options struct {
	Username      string
	Password      string
	ClientUUID    string
	ClientName    string
	PubKeyFetcher PubKeyFetcher
}

// AuthFailed signals that authentication did not succeed. The session
// runner treats it as a retry-with-backoff outcome, never a fatal exit.
type AuthFailed struct {
	Reason string
}

func (e *AuthFailed) Error() string {
	return fmt.Sprintf("auth: authentication failed: %s", e.Reason)
}

func authFailed(format string, args ...any) error {
	return &AuthFailed{Reason: fmt.Sprintf(format, args...)}
}

// Authenticate runs the token-based strategy first, falling back to the
// legacy hash-based strategy on any failure before AUTHENTICATED. It
// returns *AuthFailed (terminal) if both strategies fail.
func Authenticate(ctx context.Context, conn Conn, opts Options) error {
	if err := tokenAuth(ctx, conn, opts); err != nil {
		if legacyErr := legacyAuth(ctx, conn, opts); legacyErr != nil {
			return authFailed("token auth (%v) and legacy auth (%v) both failed", err, legacyErr)
		}
		return nil
	}
	return nil
}

const permissionWebShortLived = 2

func tokenAuth(ctx context.Context, conn Conn, opts Options) error {
	pubKeyPEM, err := fetchPublicKey(ctx, conn, opts.PubKeyFetcher)
	if err != nil {
		return err
	}
	pub, err := parsePublicKey(pubKeyPEM)
	if err != nil {
		return authFailed("parse public key: %v", err)
	}

	sk, err := newSessionKey()
	if err != nil {
		return authFailed("generate session key: %v", err)
	}
	encSessionKey, err := sk.encryptForKeyExchange(pub)
	if err != nil {
		return authFailed("encrypt session key: %v", err)
	}
	if err := roundTrip(ctx, conn, fmt.Sprintf("jdev/sys/keyexchange/%s", encSessionKey)); err != nil {
		return authFailed("key exchange: %v", err)
	}

	resp, err := command(ctx, conn, fmt.Sprintf("jdev/sys/getkey2/%s", opts.Username))
	if err != nil {
		return authFailed("getkey2: %v", err)
	}
	var key2 struct {
		Key     string `json:"key"`
		Salt    string `json:"salt"`
		HashAlg string `json:"hashAlg"`
	}
	if err := json.Unmarshal(resp.Value, &key2); err != nil {
		return authFailed("parse getkey2 response: %v", err)
	}
	alg := HashAlg(key2.HashAlg)
	if alg != HashSHA1 && alg != HashSHA256 {
		alg = HashSHA256
	}
	keyBytes, err := hex.DecodeString(key2.Key)
	if err != nil {
		return authFailed("decode getkey2 key: %v", err)
	}

	pwdHash := digestUpperHex(alg, []byte(opts.Password+":"+key2.Salt))
	credentialHash := hmacHex(alg, keyBytes, []byte(opts.Username+":"+pwdHash))

	cmd := fmt.Sprintf("jdev/sys/getjwt/%s/%s/%d/%s/%s",
		credentialHash, opts.Username, permissionWebShortLived, opts.ClientUUID, opts.ClientName)
	if err := sendEncrypted(ctx, conn, sk, cmd); err == nil {
		return nil
	}

	// Retry once with the legacy command verb.
	cmd = fmt.Sprintf("jdev/sys/gettoken/%s/%s/%d/%s/%s",
		credentialHash, opts.Username, permissionWebShortLived, opts.ClientUUID, opts.ClientName)
	if err := sendEncrypted(ctx, conn, sk, cmd); err != nil {
		return authFailed("encrypted token request: %v", err)
	}
	return nil
}

func sendEncrypted(ctx context.Context, conn Conn, sk sessionKey, command string) error {
	salt, err := randomSaltHex()
	if err != nil {
		return err
	}
	framed := fmt.Sprintf("salt/%s/%s\x00", salt, command)
	encrypted, err := sk.encryptCommand(framed)
	if err != nil {
		return err
	}
	return roundTrip(ctx, conn, "jdev/sys/enc/"+url.PathEscape(encrypted))
}

func randomSaltHex() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func legacyAuth(ctx context.Context, conn Conn, opts Options) error {
	resp, err := command(ctx, conn, "jdev/sys/getkey")
	if err != nil {
		return authFailed("getkey: %v", err)
	}
	keyHex, ok := resp.ValueString()
	if !ok {
		return authFailed("getkey: unexpected value shape")
	}
	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return authFailed("decode getkey key: %v", err)
	}
	digest := hmacHex(HashSHA1, keyBytes, []byte(opts.Username+":"+opts.Password))
	if err := roundTrip(ctx, conn, "authenticate/"+digest); err != nil {
		return authFailed("authenticate: %v", err)
	}
	return nil
}

func fetchPublicKey(ctx context.Context, conn Conn, fallback PubKeyFetcher) (string, error) {
	resp, err := command(ctx, conn, "jdev/sys/getPublicKey")
	if err == nil {
		if s, ok := resp.ValueString(); ok {
			return s, nil
		}
		return "", authFailed("getPublicKey: unexpected value shape")
	}
	if fallback == nil {
		return "", authFailed("getPublicKey: %v (no HTTP fallback configured)", err)
	}
	pem, ferr := fallback(ctx)
	if ferr != nil {
		return "", authFailed("getPublicKey HTTP fallback: %v", ferr)
	}
	return pem, nil
}

// command sends cmd and returns the parsed response, failing if the
// response does not indicate success.
func command(ctx context.Context, conn Conn, cmd string) (Response, error) {
	resp, err := roundTripResponse(ctx, conn, cmd)
	if err != nil {
		return Response{}, err
	}
	if !resp.IsSuccess() {
		return Response{}, fmt.Errorf("command %q returned code %q", cmd, resp.Code)
	}
	return resp, nil
}

// roundTrip sends cmd and discards a successful response, erroring on any
// transport failure or non-success code.
func roundTrip(ctx context.Context, conn Conn, cmd string) error {
	_, err := command(ctx, conn, cmd)
	return err
}

func roundTripResponse(ctx context.Context, conn Conn, cmd string) (Response, error) {
	if err := conn.SendText(ctx, cmd); err != nil {
		return Response{}, fmt.Errorf("send %q: %w", cmd, err)
	}
	raw, err := conn.RecvText(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("recv response to %q: %w", cmd, err)
	}
	return ParseResponse([]byte(raw))
}
