package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const (
	defaultGitHubUserAPIURL = "https://api.github.com/user"
	// maxUserInfoSize はユーザー情報レスポンスの上限（1MB）。
	maxUserInfoSize = 1 << 20
)

var (
	// ErrInvalidCode は認可コードをトークンに交換できなかったことを表す。
	ErrInvalidCode = errors.New("invalid oauth code")
	// ErrIdentityProvider はGitHub APIからユーザー情報を取得できなかったことを表す。
	ErrIdentityProvider = errors.New("identity provider request failed")
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	UserAPIURL string
}

// GitHubOAuthProvider はGitHub OAuthによる認証を提供する。
type GitHubOAuthProvider struct {
	oauth      *oauth2.Config
	userAPIURL string
	httpClient *http.Client
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
// httpClientはトークン交換とユーザー情報取得の両方に使用する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig, httpClient *http.Client) *GitHubOAuthProvider {
	endpoint := github.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	userAPIURL := config.UserAPIURL
	if userAPIURL == "" {
		userAPIURL = defaultGitHubUserAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &GitHubOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"read:user", "user:email"},
		},
		userAPIURL: userAPIURL,
		httpClient: httpClient,
	}
}

// GetLoginURL はGitHub OAuthの認証URLを生成する。
func (p *GitHubOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// gitHubUser はGitHubのユーザーAPIのレスポンス。
type gitHubUser struct {
	ID        int64   `json:"id"`
	Login     string  `json:"login"`
	Name      string  `json:"name"`
	Email     *string `json:"email"`
	AvatarURL string  `json:"avatar_url"`
}

// ExchangeCode は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	// 1. 認可コードをアクセストークンに交換
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token in response", ErrInvalidCode)
	}

	// 2. アクセストークンでユーザー情報を取得
	user, err := p.fetchUser(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIdentityProvider, err)
	}

	info := &OAuthUserInfo{
		GitHubID:    user.ID,
		Login:       user.Login,
		Name:        user.Name,
		AvatarURL:   user.AvatarURL,
		AccessToken: token.AccessToken,
	}
	if user.Email != nil && *user.Email != "" {
		info.Email = user.Email
	}
	return info, nil
}

// fetchUser はアクセストークンでGitHubのユーザー情報を取得する。
func (p *GitHubOAuthProvider) fetchUser(ctx context.Context, accessToken string) (*gitHubUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userAPIURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read user response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("user fetch failed with status %d", resp.StatusCode)
	}

	var user gitHubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}

	if user.ID == 0 || user.Login == "" {
		return nil, fmt.Errorf("empty id or login in user response")
	}

	return &user, nil
}

// compile-time interface check
var _ OAuthProvider = (*GitHubOAuthProvider)(nil)
