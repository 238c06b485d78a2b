package provider

import (
	"sort"
	"strings"

	"github.com/fitbridge/fitbridge-connect/internal/config"
	"github.com/fitbridge/fitbridge-connect/internal/domain"
	"github.com/fitbridge/fitbridge-connect/internal/domain/oauth"
)

// Registry resolves wearable providers to their OAuth endpoints and client
// credentials. Endpoints are fixed per provider; credentials come from
// configuration.
type Registry struct {
	providers map[string]oauth.ProviderConfig
}

// NewRegistry binds configured credentials onto the built-in provider set.
func NewRegistry(cfg config.Config) *Registry {
	providers := make(map[string]oauth.ProviderConfig, len(builtin))
	for name, base := range builtin {
		p := base
		if creds, ok := cfg.Providers[name]; ok {
			p.ClientID = creds.ClientID
			p.ClientSecret = creds.ClientSecret
		}
		providers[name] = p
	}
	return &Registry{providers: providers}
}

// Lookup returns the provider config, requiring client credentials to be
// present. Unknown and unconfigured providers are indistinguishable to the
// caller.
func (r *Registry) Lookup(name string) (oauth.ProviderConfig, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok || !p.Configured() {
		return oauth.ProviderConfig{}, domain.ErrProviderNotConfigured
	}
	return p, nil
}

// Names lists all known provider names, configured or not.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtin = map[string]oauth.ProviderConfig{
	"google_fit": {
		Name:        "google_fit",
		DisplayName: "Google Fit",
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:    "https://oauth2.googleapis.com/token",
		RevokeURL:   "https://oauth2.googleapis.com/revoke",
		Scopes: []string{
			"https://www.googleapis.com/auth/fitness.activity.read",
			"https://www.googleapis.com/auth/fitness.heart_rate.read",
			"https://www.googleapis.com/auth/fitness.sleep.read",
		},
	},
	"fitbit": {
		Name:        "fitbit",
		DisplayName: "Fitbit",
		AuthURL:     "https://www.fitbit.com/oauth2/authorize",
		TokenURL:    "https://api.fitbit.com/oauth2/token",
		RevokeURL:   "https://api.fitbit.com/oauth2/revoke",
		Scopes:      []string{"activity", "heartrate", "sleep", "profile"},
	},
	"garmin": {
		Name:        "garmin",
		DisplayName: "Garmin Connect",
		AuthURL:     "https://connect.garmin.com/oauth2Confirm",
		TokenURL:    "https://diauth.garmin.com/di-oauth2-service/oauth/token",
		RevokeURL:   "https://apis.garmin.com/wellness-api/rest/user/registration",
		Scopes:      []string{"activity_api", "health_api"},
	},
}
