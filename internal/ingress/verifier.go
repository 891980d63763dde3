package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// signaturePrefix is what the provider prepends to the base64 HMAC in both
// the signature header and the CRC response token.
const signaturePrefix = "sha256="

var (
	// ErrInvalidSignature means the claimed signature does not match the body.
	ErrInvalidSignature = errors.New("ingress: invalid signature")
	// ErrMissingToken means no signature or challenge token was presented.
	ErrMissingToken = errors.New("ingress: missing signature or challenge token")
)

// SecretStore fetches named secrets. Implemented by the secrets client.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// webhookSecret is the shape of the stored webhook secret blob.
type webhookSecret struct {
	ConsumerSecret string `json:"ConsumerSecret"`
}

// Verifier authenticates webhook deliveries and answers the CRC handshake.
// The signing secret is fetched lazily, at most once per process; concurrent
// first callers collapse onto a single fetch.
type Verifier struct {
	store      SecretStore
	secretName string

	group  singleflight.Group
	cached atomic.Pointer[string]
}

// NewVerifier creates a verifier that fetches the named secret on first use.
func NewVerifier(store SecretStore, secretName string) *Verifier {
	return &Verifier{
		store:      store,
		secretName: secretName,
	}
}

func (v *Verifier) secret(ctx context.Context) (string, error) {
	if s := v.cached.Load(); s != nil {
		return *s, nil
	}

	value, err, _ := v.group.Do("secret", func() (interface{}, error) {
		raw, err := v.store.GetSecret(ctx, v.secretName)
		if err != nil {
			return nil, fmt.Errorf("fetch webhook secret: %w", err)
		}

		var secret webhookSecret
		if err := json.Unmarshal([]byte(raw), &secret); err != nil {
			return nil, fmt.Errorf("webhook secret is not valid JSON: %w", err)
		}
		if secret.ConsumerSecret == "" {
			return nil, fmt.Errorf("webhook secret has no ConsumerSecret")
		}

		v.cached.Store(&secret.ConsumerSecret)
		return secret.ConsumerSecret, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Sign computes the base64 HMAC-SHA256 of the payload under the webhook secret.
func (v *Verifier) Sign(ctx context.Context, payload []byte) (string, error) {
	secret, err := v.secret(ctx)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks the claimed signature header against the request body.
// The header carries a "sha256=" prefix which is stripped before the
// constant-time comparison.
func (v *Verifier) Verify(ctx context.Context, body []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return ErrMissingToken
	}

	claimed := strings.TrimPrefix(signatureHeader, signaturePrefix)
	expected, err := v.Sign(ctx, body)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(expected), []byte(claimed)) {
		return ErrInvalidSignature
	}
	return nil
}

// CRCResponse is the body returned for the provider's challenge request.
type CRCResponse struct {
	ResponseToken string `json:"response_token"`
}

// CRC answers the one-time challenge proving endpoint ownership.
func (v *Verifier) CRC(ctx context.Context, token string) (CRCResponse, error) {
	if token == "" {
		return CRCResponse{}, ErrMissingToken
	}

	mac, err := v.Sign(ctx, []byte(token))
	if err != nil {
		return CRCResponse{}, err
	}
	return CRCResponse{ResponseToken: signaturePrefix + mac}, nil
}
