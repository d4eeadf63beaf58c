package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultTokenTTL = 60 * time.Minute
	tokenIssuer     = "domainman"
)

var (
	// ErrInvalidToken は署名、形式、発行者のいずれかが不正なトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken は有効期限切れのトークンを表す。
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingSigningKey は署名鍵が未設定であることを表す。
	ErrMissingSigningKey = errors.New("token signing key is required")
)

// Claims はアクセストークンのクレーム。
// Subjectにユーザーid、IDにトークン固有のjtiを持つ。
type Claims struct {
	jwt.RegisteredClaims
}

// TokenConfig はTokenManagerの設定。
type TokenConfig struct {
	SigningKey []byte
	Algorithm  string        // HS256, HS384, HS512。空の場合はHS256
	TTL        time.Duration // 0以下の場合は60分
	Clock      func() time.Time
}

// TokenManager はHMAC署名のアクセストークンを発行・検証する。
type TokenManager struct {
	key    []byte
	method jwt.SigningMethod
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenManager はTokenManagerを生成する。
func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, ErrMissingSigningKey
	}
	alg := strings.ToUpper(cfg.Algorithm)
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm: %s", cfg.Algorithm)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenManager{
		key:    append([]byte(nil), cfg.SigningKey...),
		method: method,
		ttl:    ttl,
		clock:  clock,
	}, nil
}

// Issue はユーザーのアクセストークンを発行する。
func (m *TokenManager) Issue(userID string) (string, *Claims, error) {
	if strings.TrimSpace(userID) == "" {
		return "", nil, errors.New("subject is required")
	}
	now := m.clock().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   userID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.key)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate はトークンを検証してクレームを返す。
func (m *TokenManager) Validate(tokenString string) (*Claims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) { return m.key, nil },
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
