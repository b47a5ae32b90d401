package withings

import (
	"context"
	"net/url"
)

const (
	defaultAuthorizeURL = "https://account.withings.com/oauth2_user/authorize2"
	oauthScopes         = "user.metrics,user.activity"
)

// OAuth performs authorization-code and refresh-token grants against the
// provider's form-encoded token endpoint.
type OAuth struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authorizeURL string
	api          *Client
}

// NewOAuth creates an OAuth helper bound to an API client
func NewOAuth(api *Client, clientID, clientSecret, redirectURI string) *OAuth {
	return &OAuth{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		authorizeURL: defaultAuthorizeURL,
		api:          api,
	}
}

// WithAuthorizeURL overrides the browser authorization endpoint (tests)
func (o *OAuth) WithAuthorizeURL(u string) *OAuth {
	o.authorizeURL = u
	return o
}

// AuthorizeURL builds the provider authorization redirect with fixed scopes
func (o *OAuth) AuthorizeURL(state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {o.clientID},
		"scope":         {oauthScopes},
		"redirect_uri":  {o.redirectURI},
		"state":         {state},
	}
	return o.authorizeURL + "?" + params.Encode()
}

// TokenResponse is the provider token grant payload
type TokenResponse struct {
	UserID       int64  `json:"userid"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// ExchangeCode trades an authorization code for tokens
func (o *OAuth) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	params := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"authorization_code"},
		"client_id":     {o.clientID},
		"client_secret": {o.clientSecret},
		"code":          {code},
		"redirect_uri":  {o.redirectURI},
	}

	var tok TokenResponse
	if err := o.api.PostForm(ctx, "/v2/oauth2", "", params, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// Refresh performs one refresh-token grant. Exactly one provider round trip;
// no internal retry.
func (o *OAuth) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	params := url.Values{
		"action":        {"requesttoken"},
		"grant_type":    {"refresh_token"},
		"client_id":     {o.clientID},
		"client_secret": {o.clientSecret},
		"refresh_token": {refreshToken},
	}

	var tok TokenResponse
	if err := o.api.PostForm(ctx, "/v2/oauth2", "", params, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}
