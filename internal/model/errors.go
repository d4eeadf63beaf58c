// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, subdomain, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeQuotaExceeded       = "QUOTA_EXCEEDED"
	ErrCodePolicyViolation     = "POLICY_VIOLATION"
	ErrCodeNameConflictLocal   = "NAME_CONFLICT_LOCAL"
	ErrCodeNameConflictRemote  = "NAME_CONFLICT_REMOTE"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeProvisioningFailed  = "PROVISIONING_FAILED"
	ErrCodeSubdomainNotFound   = "SUBDOMAIN_NOT_FOUND"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewQuotaExceededError はサブドメイン登録上限エラーを生成する。
func NewQuotaExceededError(limit int) *APIError {
	return &APIError{
		Code:     ErrCodeQuotaExceeded,
		Message:  fmt.Sprintf("サブドメインの登録数が上限（%d件）に達しています。", limit),
		Category: "subdomain",
		Action:   "不要なサブドメインを削除してから、新しいサブドメインを登録してください。",
	}
}

// NewPolicyViolationError は不適切なサブドメイン名のエラーを生成する。
func NewPolicyViolationError() *APIError {
	return &APIError{
		Code:     ErrCodePolicyViolation,
		Message:  "サブドメイン名に不適切な語句が含まれています。",
		Category: "validation",
		Action:   "別のサブドメイン名を指定してください。",
	}
}

// NewNameConflictLocalError はサブドメインがデータベースに既に存在する場合のエラーを生成する。
func NewNameConflictLocalError(label string) *APIError {
	return &APIError{
		Code:     ErrCodeNameConflictLocal,
		Message:  fmt.Sprintf("サブドメインは既に登録されています: %s", label),
		Category: "subdomain",
		Action:   "別のサブドメイン名を指定してください。",
	}
}

// NewNameConflictRemoteError はサブドメインがDNSプロバイダーに既に存在する場合のエラーを生成する。
func NewNameConflictRemoteError(label string) *APIError {
	return &APIError{
		Code:     ErrCodeNameConflictRemote,
		Message:  fmt.Sprintf("サブドメインはDNSに既に存在します: %s", label),
		Category: "subdomain",
		Action:   "別のサブドメイン名を指定してください。",
	}
}

// NewProviderUnavailableError はDNSゾーンまたはレコードの解決に失敗した場合のエラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "DNSゾーンの取得に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewProvisioningFailedError はDNSレコードの作成・更新に失敗した場合のエラーを生成する。
func NewProvisioningFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeProvisioningFailed,
		Message:  "DNSレコードの作成に失敗しました。",
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSubdomainNotFoundError はサブドメインが見つからない場合のエラーを生成する。
// 他ユーザー所有のサブドメインも同じエラーとし、存在を漏らさない。
func NewSubdomainNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSubdomainNotFound,
		Message:  "サブドメインが見つかりません。",
		Category: "subdomain",
		Action:   "サブドメインIDを確認してください。",
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewRateLimitExceededError はレート制限超過のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
