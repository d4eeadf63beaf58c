// Package auth はGitHub OAuth認証フローとアクセストークンの管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/domainman/internal/model"
	"github.com/hitoshi/domainman/internal/repository"
)

// ErrUnauthenticated はBearerトークンで利用者を特定できないことを表す。
var ErrUnauthenticated = errors.New("unauthenticated")

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	GitHubID    int64
	Login       string
	Name        string
	Email       *string
	AvatarURL   string
	AccessToken string // GitHubのアクセストークン
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// TextSanitizer は外部から取得した表示用テキストを無害化する。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Session はログイン成功時に発行したアクセストークンを表す。
type Session struct {
	Token     string
	User      *model.User
	ExpiresAt time.Time
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	tokens      *TokenManager
	revocations RevocationStore
	sanitizer   TextSanitizer
	now         func() time.Time
}

// NewService はServiceを生成する。
// revocationsがnilの場合はトークン失効を記録しない。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	tokens *TokenManager,
	revocations RevocationStore,
	sanitizer TextSanitizer,
) *Service {
	if revocations == nil {
		revocations = NewRedisRevocationStore(nil)
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		tokens:      tokens,
		revocations: revocations,
		sanitizer:   sanitizer,
		now:         time.Now,
	}
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// HandleCallback はOAuthコールバックを処理し、アクセストークンを発行する。
// 未登録のGitHubユーザーの場合はユーザーを作成する。
// 登録済みの場合はアクセストークン、アバター、表示名を更新する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*Session, error) {
	// 1. 認可コードをトークンに交換し、ユーザー情報を取得
	info, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	// 2. GitHubのユーザーIDで既存ユーザーを検索
	user, err := s.userRepo.FindByGitHubID(ctx, info.GitHubID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	displayName := s.displayName(info)
	now := s.now()

	if user != nil {
		// 3a. 既存ユーザー: ログイン時に変化し得る項目を更新
		user.AccessToken = info.AccessToken
		user.AvatarURL = info.AvatarURL
		user.DisplayName = displayName
		user.UpdatedAt = now
		if err := s.userRepo.UpdateLogin(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to update user: %w", err)
		}
		slog.Info("existing user logged in",
			slog.String("user_id", user.ID),
			slog.Int64("github_id", user.GitHubID),
		)
	} else {
		// 3b. 新規ユーザー
		user = &model.User{
			ID:          uuid.New().String(),
			GitHubID:    info.GitHubID,
			Username:    info.Login,
			DisplayName: displayName,
			Email:       info.Email,
			AvatarURL:   info.AvatarURL,
			AccessToken: info.AccessToken,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("new user created",
			slog.String("user_id", user.ID),
			slog.Int64("github_id", user.GitHubID),
			slog.String("username", user.Username),
		)
	}

	// 4. アクセストークンを発行
	token, claims, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	return &Session{Token: token, User: user, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Authenticate はBearerトークンを検証し、利用者とクレームを返す。
// 署名不正、期限切れ、失効済み、ユーザー不在はいずれもErrUnauthenticatedを返す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, *Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		return nil, nil, fmt.Errorf("%w: token revoked", ErrUnauthenticated)
	}

	user, err := s.userRepo.FindByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, fmt.Errorf("%w: user not found", ErrUnauthenticated)
	}

	return user, claims, nil
}

// Logout はトークンを有効期限まで失効扱いにする。
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	if claims == nil || claims.ID == "" {
		return fmt.Errorf("token id is required")
	}

	var ttl time.Duration
	if claims.ExpiresAt != nil {
		ttl = claims.ExpiresAt.Time.Sub(s.now())
	}
	if err := s.revocations.Revoke(ctx, claims.ID, ttl); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	slog.Info("user logged out", slog.String("user_id", claims.Subject))
	return nil
}

// GetCurrentUser はユーザーIDからユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user not found")
	}

	return user, nil
}

// displayName はGitHubの名前を無害化して返す。名前が空の場合はログイン名を使う。
func (s *Service) displayName(info *OAuthUserInfo) string {
	name := info.Name
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeText(name)
	}
	if name == "" {
		return info.Login
	}
	return name
}
