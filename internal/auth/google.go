package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"trustgate/pkg/cache"
	tgerrors "trustgate/pkg/errors"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// GoogleProfile is the subset of the userinfo response this service needs.
type GoogleProfile struct {
	Subject   string
	Email     string
	FirstName string
	LastName  string
}

// GoogleOAuth runs the authorization-code flow against Google. State nonces
// are one-shot values held in Redis for the configured TTL.
type GoogleOAuth struct {
	config   *oauth2.Config
	states   *cache.RedisCache
	stateTTL time.Duration
}

func NewGoogleOAuth(clientID, clientSecret, redirectURL string, states *cache.RedisCache, stateTTL time.Duration) *GoogleOAuth {
	return &GoogleOAuth{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		states:   states,
		stateTTL: stateTTL,
	}
}

// AuthURL mints a state nonce, stores it, and returns the consent URL.
func (g *GoogleOAuth) AuthURL(ctx context.Context) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	if err := g.states.Set(ctx, "oauth:state:"+state, true, g.stateTTL); err != nil {
		return "", tgerrors.Wrap(err, "failed to store oauth state")
	}

	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange validates the state nonce, swaps the code for a token, and
// fetches the userinfo profile.
func (g *GoogleOAuth) Exchange(ctx context.Context, state, code string) (*GoogleProfile, error) {
	var seen bool
	if err := g.states.GetDel(ctx, "oauth:state:"+state, &seen); err != nil || !seen {
		return nil, tgerrors.ErrInvalidOAuthState
	}

	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, tgerrors.Wrap(err, "oauth code exchange failed")
	}

	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(g.config.TokenSource(ctx, tok)))
	if err != nil {
		return nil, tgerrors.Wrap(err, "failed to build userinfo client")
	}

	ui, err := svc.Userinfo.Get().Do()
	if err != nil {
		return nil, tgerrors.Wrap(err, "failed to fetch userinfo")
	}
	if ui.Id == "" || ui.Email == "" {
		return nil, fmt.Errorf("incomplete userinfo response")
	}

	return &GoogleProfile{
		Subject:   ui.Id,
		Email:     ui.Email,
		FirstName: ui.GivenName,
		LastName:  ui.FamilyName,
	}, nil
}
