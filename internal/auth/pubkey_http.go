package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PublicKeyHTTPTimeout bounds the fallback HTTP public-key fetch.
const PublicKeyHTTPTimeout = 10 * time.Second

// NewHTTPPubKeyFetcher builds a PubKeyFetcher that performs a single HTTP
// GET with Basic-Auth against the controller's getPublicKey endpoint, used
// when modern firmware refuses to emit the key over the socket.
func NewHTTPPubKeyFetcher(client *http.Client, baseURL, username, password string) PubKeyFetcher {
	return func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, PublicKeyHTTPTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/jdev/sys/getPublicKey", nil)
		if err != nil {
			return "", err
		}
		req.SetBasicAuth(username, password)

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", err
		}
		parsed, err := ParseResponse(body)
		if err != nil {
			return "", fmt.Errorf("decode getPublicKey http response: %w", err)
		}
		if !parsed.IsSuccess() {
			return "", fmt.Errorf("getPublicKey http request returned code %q", parsed.Code)
		}
		var value string
		if err := json.Unmarshal(parsed.Value, &value); err != nil {
			return "", fmt.Errorf("getPublicKey http response value: %w", err)
		}
		return value, nil
	}
}
