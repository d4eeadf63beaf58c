// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/domainman/internal/model"
)

// ErrDuplicateLabel はサブドメインのユニーク制約違反を表す。
// 事前チェックをすり抜けた同時登録で発生する。
var ErrDuplicateLabel = errors.New("subdomain label already exists")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByGitHubID はGitHubのユーザーIDでユーザーを検索する。見つからない場合はnilを返す。
	FindByGitHubID(ctx context.Context, githubID int64) (*model.User, error)

	// Create はユーザーを作成する。
	Create(ctx context.Context, user *model.User) error

	// UpdateLogin はログイン時に変化し得る項目（アクセストークン、アバター、表示名）を更新する。
	UpdateLogin(ctx context.Context, user *model.User) error
}

// SubdomainRepository はサブドメインデータの永続化インターフェース。
// 各メソッドは単一の論理操作であり、複数メソッドにまたがるトランザクションは提供しない。
type SubdomainRepository interface {
	// CountByUserID はユーザーが所有するサブドメイン数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// FindByLabel はラベル（大文字小文字を区別しない）でサブドメインを検索する。
	// 見つからない場合はnilを返す。
	FindByLabel(ctx context.Context, label string) (*model.Subdomain, error)

	// FindByLabelExcludingID は指定ID以外の行からラベルでサブドメインを検索する。
	// 見つからない場合はnilを返す。
	FindByLabelExcludingID(ctx context.Context, label string, excludeID int64) (*model.Subdomain, error)

	// FindByIDAndUserID はIDと所有者でサブドメインを取得する。
	// 存在しない場合も他ユーザー所有の場合もnilを返す。
	FindByIDAndUserID(ctx context.Context, id int64, userID string) (*model.Subdomain, error)

	// ListByUserID はユーザーのサブドメイン一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Subdomain, error)

	// ListAll は全ユーザーのサブドメインを返す。ドリフト監査用。
	ListAll(ctx context.Context) ([]*model.Subdomain, error)

	// Create はサブドメインを作成し、採番されたIDと作成日時をsubに反映する。
	// ラベルのユニーク制約違反時はErrDuplicateLabelを返す。
	Create(ctx context.Context, sub *model.Subdomain) error

	// Update はサブドメインのレコード設定を更新し、更新日時をsubに反映する。
	// ラベルのユニーク制約違反時はErrDuplicateLabelを返す。
	Update(ctx context.Context, sub *model.Subdomain) error

	// Delete は指定IDかつ指定ユーザー所有のサブドメインを削除する。
	Delete(ctx context.Context, id int64, userID string) error
}
