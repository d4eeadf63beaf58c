// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/domainman/internal/auth"
	"github.com/hitoshi/domainman/internal/middleware"
	"github.com/hitoshi/domainman/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) string
	HandleCallback(ctx context.Context, code string) (*auth.Session, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	GetCurrentUser(ctx context.Context, userID string) (*model.User, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	FrontendURL  string // ログイン完了後のリダイレクト先（末尾スラッシュなし）
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はGitHub OAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

type loginURLResponse struct {
	URL string `json:"url"`
}

type userResponse struct {
	ID        string  `json:"id"`
	GitHubID  int64   `json:"github_id"`
	Username  string  `json:"username"`
	Email     *string `json:"email"`
	AvatarURL string  `json:"avatar_url"`
}

func (h *AuthHandler) stateConfig() middleware.OAuthStateConfig {
	return middleware.OAuthStateConfig{
		CookieSecure: h.config.CookieSecure,
		CookieDomain: h.config.CookieDomain,
	}
}

// Login はGitHubの認可URLを返す。stateはCookieにも保存する。
// GET /api/v1/auth/login/github
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := middleware.IssueOAuthState(w, h.stateConfig())
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	writeJSON(w, http.StatusOK, loginURLResponse{URL: h.service.GetLoginURL(state)})
}

// Callback はOAuthコールバックを処理し、アクセストークン付きでフロントエンドへリダイレクトする。
// GET /api/v1/auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	if !middleware.VerifyOAuthState(w, r, h.stateConfig()) {
		slog.Warn("oauth state mismatch")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid state parameter"))
		return
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("missing authorization code"))
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCode) {
			slog.Warn("invalid github code", slog.String("error", err.Error()))
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("invalid GitHub code"))
			return
		}
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 4. フロントエンドにリダイレクト
	target := h.config.FrontendURL + "/callback?token=" + url.QueryEscape(session.Token)
	http.Redirect(w, r, target, http.StatusFound)
}

// Me は現在のログインユーザー情報を返す。
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), userID)
	if err != nil {
		slog.Warn("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:        user.ID,
		GitHubID:  user.GitHubID,
		Username:  user.Username,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
	})
}

// Logout はアクセストークンを失効させる。
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteUnauthorized(w)
		return
	}

	if err := h.service.Logout(r.Context(), claims); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
