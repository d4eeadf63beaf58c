package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"
)

const (
	// oauthStateCookieName はOAuthのstateパラメータを保持するCookieの名前。
	oauthStateCookieName = "oauth_state"

	// oauthStateTTL はstateの有効期間。ログイン画面での操作時間を想定する。
	oauthStateTTL = 10 * time.Minute
)

// OAuthStateConfig はstate Cookieの設定。
type OAuthStateConfig struct {
	CookieSecure bool
	CookieDomain string
}

// IssueOAuthState は新しいstateを生成してCookieに設定し、その値を返す。
func IssueOAuthState(w http.ResponseWriter, config OAuthStateConfig) (string, error) {
	state, err := generateOAuthState()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    state,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(oauthStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// VerifyOAuthState はコールバックのstateがCookieの値と一致するかを判定する。
// 判定後はCookieを破棄する。
func VerifyOAuthState(w http.ResponseWriter, r *http.Request, config OAuthStateConfig) bool {
	state := r.URL.Query().Get("state")

	cookie, err := r.Cookie(oauthStateCookieName)

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    "",
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if err != nil || cookie.Value == "" || state == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) == 1
}

// generateOAuthState は暗号的に安全なランダム文字列を生成する。
func generateOAuthState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
