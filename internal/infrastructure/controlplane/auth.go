package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/ermisnetwork/ermis-classroom-sdk-sub003/pkg/errors"
)

// Credentials identify the user against the auth endpoint.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Authenticator exchanges credentials for an access token at the
// control-plane login endpoint. It implements ports.Authenticator.
type Authenticator struct {
	baseURL string
	creds   Credentials
	http    *http.Client

	// onToken, when set, receives every freshly issued token. The REST
	// client registers itself here so its bearer header stays current.
	onToken func(token string)
}

// NewAuthenticator builds the login client. onToken may be nil.
func NewAuthenticator(baseURL string, creds Credentials, onToken func(string)) *Authenticator {
	return &Authenticator{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: 10 * time.Second},
		onToken: onToken,
	}
}

// Authenticate posts the credentials and returns the access token.
func (a *Authenticator) Authenticate(ctx context.Context) (string, error) {
	payload, err := json.Marshal(&a.creds)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/login", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", apperrors.NewTransportError("login request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewAuthenticationError("login rejected")
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", apperrors.NewAuthenticationError("malformed login response")
	}
	if a.onToken != nil {
		a.onToken(body.AccessToken)
	}
	return body.AccessToken, nil
}
