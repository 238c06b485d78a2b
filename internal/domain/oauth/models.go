package oauth

import "time"

// ProviderConfig holds the endpoints and client credentials for one wearable
// data provider.
type ProviderConfig struct {
	Name         string
	DisplayName  string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RevokeURL    string
	Scopes       []string
}

// Configured reports whether client credentials are present.
func (c ProviderConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// AuthState is the state/PKCE tuple persisted for one in-flight authorization
// attempt. It lives for ten minutes and is consumed exactly once.
type AuthState struct {
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenResponse models the provider token endpoint response for both the
// authorization_code and refresh_token grants.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	TokenType    string
	Scope        string
}
