package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	domainoauth "github.com/fitbridge/fitbridge-connect/internal/domain/oauth"
)

// ProviderClient encapsulates outbound HTTP calls to wearable providers'
// OAuth endpoints.
type ProviderClient interface {
	ExchangeCode(ctx context.Context, provider domainoauth.ProviderConfig, code, codeVerifier, redirectURI string) (*domainoauth.TokenResponse, error)
	RefreshToken(ctx context.Context, provider domainoauth.ProviderConfig, refreshToken string) (*domainoauth.TokenResponse, error)
	RevokeToken(ctx context.Context, provider domainoauth.ProviderConfig, accessToken string) error
}

// HTTPProviderClient is the default HTTP implementation.
type HTTPProviderClient struct {
	httpClient *http.Client
}

var _ ProviderClient = (*HTTPProviderClient)(nil)

// NewHTTPProviderClient constructs the default ProviderClient. Timeout bounds
// every provider call.
func NewHTTPProviderClient(client *http.Client, timeout time.Duration) *HTTPProviderClient {
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProviderClient{httpClient: client}
}

// ExchangeCode performs the authorization_code grant with PKCE.
func (c *HTTPProviderClient) ExchangeCode(ctx context.Context, provider domainoauth.ProviderConfig, code, codeVerifier, redirectURI string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", redirectURI)
	data.Set("client_id", provider.ClientID)
	data.Set("client_secret", provider.ClientSecret)
	if strings.TrimSpace(codeVerifier) != "" {
		data.Set("code_verifier", codeVerifier)
	}
	return c.postTokenEndpoint(ctx, provider.TokenURL, data)
}

// RefreshToken performs the refresh_token grant.
func (c *HTTPProviderClient) RefreshToken(ctx context.Context, provider domainoauth.ProviderConfig, refreshToken string) (*domainoauth.TokenResponse, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", provider.ClientID)
	data.Set("client_secret", provider.ClientSecret)
	return c.postTokenEndpoint(ctx, provider.TokenURL, data)
}

// RevokeToken posts the RFC 7009 revocation request. A missing revoke
// endpoint is not an error; the caller treats provider-side revocation as
// best effort either way.
func (c *HTTPProviderClient) RevokeToken(ctx context.Context, provider domainoauth.ProviderConfig, accessToken string) error {
	if strings.TrimSpace(provider.RevokeURL) == "" {
		return nil
	}
	data := url.Values{}
	data.Set("token", accessToken)
	data.Set("client_id", provider.ClientID)
	data.Set("client_secret", provider.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.RevokeURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke failed: status=%d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPProviderClient) postTokenEndpoint(ctx context.Context, tokenURL string, data url.Values) (*domainoauth.TokenResponse, error) {
	if strings.TrimSpace(tokenURL) == "" {
		return nil, fmt.Errorf("token url missing")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("token endpoint failed: status=%d body=%s", resp.StatusCode, truncate(body, 512))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	token := &domainoauth.TokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
	}
	if exp := raw["expires_in"]; exp != nil {
		token.ExpiresIn = int64Value(exp)
	}
	return token, nil
}

func truncate(body []byte, max int) string {
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
