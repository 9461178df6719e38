package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

var ErrNotConfigured = errors.New("facebook app is not configured")

// Client performs the OAuth code flow against Facebook and reads the
// connected account from the Graph API.
type Client struct {
	oauth    *oauth2.Config
	graphURL string
	http     *http.Client
}

func NewClient(cfg config.FacebookConfig) *Client {
	graphBase := strings.TrimRight(cfg.GraphBaseURL, "/") + "/" + cfg.GraphVersion
	dialogBase := strings.TrimRight(cfg.DialogBaseURL, "/") + "/" + cfg.GraphVersion

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   dialogBase + "/dialog/oauth",
				TokenURL:  graphBase + "/oauth/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		graphURL: graphBase,
		http:     &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.oauth.ClientID != ""
}

// AuthCodeURL returns the login dialog URL carrying state.
func (c *Client) AuthCodeURL(state string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	return c.oauth.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for an access token and resolves the
// Facebook user it belongs to.
func (c *Client) Exchange(ctx context.Context, code string) (*models.FacebookConnection, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	userID, err := c.FetchUserID(ctx, token)
	if err != nil {
		return nil, err
	}

	conn := &models.FacebookConnection{
		FacebookUserID: userID,
		AccessToken:    token.AccessToken,
	}
	if !token.Expiry.IsZero() {
		expires := token.Expiry.Unix()
		conn.TokenExpires = &expires
	}
	return conn, nil
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// FetchUserID returns the id of the account that owns token.
func (c *Client) FetchUserID(ctx context.Context, token *oauth2.Token) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	client := c.oauth.Client(ctx, token)

	resp, err := client.Get(c.graphURL + "/me?" + url.Values{"fields": {"id,name"}}.Encode())
	if err != nil {
		return "", fmt.Errorf("graph /me: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read graph /me: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge graphError
		if json.Unmarshal(body, &ge) == nil && ge.Error.Message != "" {
			return "", fmt.Errorf("graph /me: %s (code %d)", ge.Error.Message, ge.Error.Code)
		}
		return "", fmt.Errorf("graph /me: unexpected status %d", resp.StatusCode)
	}

	var me struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return "", fmt.Errorf("decode graph /me: %w", err)
	}
	if me.ID == "" {
		return "", errors.New("graph /me: response has no id")
	}
	return me.ID, nil
}
