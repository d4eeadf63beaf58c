package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Netlify DNS
	NetlifyAccessKey string
	NetlifyDomain    string // 親ドメイン（例: fosscu.org）
	NetlifyAPIURL    string
	ProviderTimeout  time.Duration

	// GitHub OAuth
	GitHubClientID     string
	GitHubClientSecret string
	GitHubRedirectURL  string

	// Token
	SecretKey         string
	Algorithm         string
	AccessTokenExpire time.Duration
	RedisURL          string // 空の場合はトークン失効を記録しない

	// Subdomain
	SubdomainQuota int

	// Rate Limit
	RateLimitGeneral  int // ユーザーあたり/分
	RateLimitMutation int // ユーザーあたり/分（作成・更新・削除）
	RateLimitAuth     int // IPあたり/分（認証エンドポイント）

	// Worker
	AuditInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort  string
	FrontendURL string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigins []string
}

// requiredKeys は必須の環境変数。
var requiredKeys = []string{
	"DATABASE_URL",
	"NETLIFY_ACCESS_KEY",
	"NETLIFY_DOMAIN",
	"GITHUB_CLIENT_ID",
	"GITHUB_CLIENT_SECRET",
	"GITHUB_REDIRECT_URL",
	"SECRET_KEY",
}

// supportedAlgorithms はトークン署名に使用できるアルゴリズム。
var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// NewViper はデフォルト値と環境変数の読み込みを設定したviperインスタンスを返す。
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("NETLIFY_API_URL", "https://api.netlify.com/api/v1")
	v.SetDefault("PROVIDER_TIMEOUT", "10s")
	v.SetDefault("ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60)
	v.SetDefault("FRONTEND_URL", "http://localhost:5173")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("SUBDOMAIN_QUOTA", 5)
	v.SetDefault("RATE_LIMIT_GENERAL", 120)
	v.SetDefault("RATE_LIMIT_MUTATION", 10)
	v.SetDefault("RATE_LIMIT_AUTH", 20)
	v.SetDefault("AUDIT_INTERVAL", "1h")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	return v
}

// Load はカレントディレクトリの.envと環境変数からConfigを読み込む。
// 既に設定されている環境変数は.envで上書きされない。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(NewViper())
}

// LoadFrom は指定したviperインスタンスからConfigを読み込む。
func LoadFrom(v *viper.Viper) (*Config, error) {
	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		DatabaseURL:        v.GetString("DATABASE_URL"),
		NetlifyAccessKey:   v.GetString("NETLIFY_ACCESS_KEY"),
		NetlifyDomain:      strings.ToLower(strings.TrimSuffix(v.GetString("NETLIFY_DOMAIN"), ".")),
		NetlifyAPIURL:      v.GetString("NETLIFY_API_URL"),
		ProviderTimeout:    getDuration(v, "PROVIDER_TIMEOUT", 10*time.Second),
		GitHubClientID:     v.GetString("GITHUB_CLIENT_ID"),
		GitHubClientSecret: v.GetString("GITHUB_CLIENT_SECRET"),
		GitHubRedirectURL:  v.GetString("GITHUB_REDIRECT_URL"),
		SecretKey:          v.GetString("SECRET_KEY"),
		Algorithm:          strings.ToUpper(v.GetString("ALGORITHM")),
		AccessTokenExpire:  time.Duration(getPositiveInt(v, "ACCESS_TOKEN_EXPIRE_MINUTES", 60)) * time.Minute,
		RedisURL:           v.GetString("REDIS_URL"),
		SubdomainQuota:     getPositiveInt(v, "SUBDOMAIN_QUOTA", 5),
		RateLimitGeneral:   getPositiveInt(v, "RATE_LIMIT_GENERAL", 120),
		RateLimitMutation:  getPositiveInt(v, "RATE_LIMIT_MUTATION", 10),
		RateLimitAuth:      getPositiveInt(v, "RATE_LIMIT_AUTH", 20),
		AuditInterval:      getDuration(v, "AUDIT_INTERVAL", time.Hour),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		ServerPort:         v.GetString("SERVER_PORT"),
		FrontendURL:        strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
	}
	cfg.CookieSecure = strings.HasPrefix(cfg.GitHubRedirectURL, "https://")

	if !supportedAlgorithms[cfg.Algorithm] {
		return nil, fmt.Errorf("unsupported ALGORITHM: %q", cfg.Algorithm)
	}

	return cfg, nil
}

// getPositiveInt は正の整数を返す。未設定、不正値、0以下の場合はデフォルト値を返す。
func getPositiveInt(v *viper.Viper, key string, defaultVal int) int {
	i := v.GetInt(key)
	if i <= 0 {
		return defaultVal
	}
	return i
}

// getDuration は期間を返す。不正値や0以下の場合はデフォルト値を返す。
func getDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
