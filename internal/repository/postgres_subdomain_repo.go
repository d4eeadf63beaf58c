package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/domainman/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// PostgresSubdomainRepo はPostgreSQLを使用したサブドメインリポジトリ。
type PostgresSubdomainRepo struct {
	db *sql.DB
}

// NewPostgresSubdomainRepo はPostgresSubdomainRepoを生成する。
func NewPostgresSubdomainRepo(db *sql.DB) *PostgresSubdomainRepo {
	return &PostgresSubdomainRepo{db: db}
}

const subdomainColumns = `id, subdomain, target_domain, record_type, ttl, priority, user_id, created_at, updated_at`

// CountByUserID はユーザーが所有するサブドメイン数を返す。
func (r *PostgresSubdomainRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subdomains WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("サブドメイン数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// FindByLabel はラベルでサブドメインを検索する。見つからない場合はnilを返す。
func (r *PostgresSubdomainRepo) FindByLabel(ctx context.Context, label string) (*model.Subdomain, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subdomainColumns+` FROM subdomains WHERE lower(subdomain) = lower($1)`,
		label,
	)
	sub, err := scanSubdomain(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ラベルによるサブドメインの検索に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByLabelExcludingID は指定ID以外の行からラベルでサブドメインを検索する。
func (r *PostgresSubdomainRepo) FindByLabelExcludingID(ctx context.Context, label string, excludeID int64) (*model.Subdomain, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subdomainColumns+` FROM subdomains WHERE lower(subdomain) = lower($1) AND id <> $2`,
		label, excludeID,
	)
	sub, err := scanSubdomain(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ラベルによるサブドメインの検索に失敗しました: %w", err)
	}
	return sub, nil
}

// FindByIDAndUserID はIDと所有者でサブドメインを取得する。見つからない場合はnilを返す。
func (r *PostgresSubdomainRepo) FindByIDAndUserID(ctx context.Context, id int64, userID string) (*model.Subdomain, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+subdomainColumns+` FROM subdomains WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	sub, err := scanSubdomain(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("サブドメインの取得に失敗しました: %w", err)
	}
	return sub, nil
}

// ListByUserID はユーザーのサブドメイン一覧を作成日時順で返す。
func (r *PostgresSubdomainRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Subdomain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subdomainColumns+` FROM subdomains WHERE user_id = $1 ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("サブドメイン一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectSubdomains(rows)
}

// ListAll は全ユーザーのサブドメインを返す。
func (r *PostgresSubdomainRepo) ListAll(ctx context.Context) ([]*model.Subdomain, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+subdomainColumns+` FROM subdomains ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("全サブドメインの取得に失敗しました: %w", err)
	}
	defer rows.Close()
	return collectSubdomains(rows)
}

// Create はサブドメインを作成する。
func (r *PostgresSubdomainRepo) Create(ctx context.Context, sub *model.Subdomain) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO subdomains (subdomain, target_domain, record_type, ttl, priority, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		sub.Subdomain, sub.TargetDomain, string(sub.RecordType), sub.TTL,
		nullInt(sub.Priority), sub.UserID, sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateLabel
	}
	if err != nil {
		return fmt.Errorf("サブドメインの作成に失敗しました: %w", err)
	}
	return nil
}

// Update はサブドメインのラベルとレコード設定を更新する。
func (r *PostgresSubdomainRepo) Update(ctx context.Context, sub *model.Subdomain) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE subdomains SET
		    subdomain = $3, target_domain = $4, record_type = $5,
		    ttl = $6, priority = $7, updated_at = $8
		 WHERE id = $1 AND user_id = $2`,
		sub.ID, sub.UserID, sub.Subdomain, sub.TargetDomain, string(sub.RecordType),
		sub.TTL, nullInt(sub.Priority), sub.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateLabel
	}
	if err != nil {
		return fmt.Errorf("サブドメインの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("サブドメインが見つかりません: %d", sub.ID)
	}
	return nil
}

// Delete は指定IDかつ指定ユーザー所有のサブドメインを削除する。
// 対象が存在しない場合もエラーにはしない。
func (r *PostgresSubdomainRepo) Delete(ctx context.Context, id int64, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM subdomains WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("サブドメインの削除に失敗しました: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubdomain(row rowScanner) (*model.Subdomain, error) {
	sub := &model.Subdomain{}
	var recordType string
	var priority sql.NullInt64
	if err := row.Scan(
		&sub.ID, &sub.Subdomain, &sub.TargetDomain, &recordType, &sub.TTL,
		&priority, &sub.UserID, &sub.CreatedAt, &sub.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sub.RecordType = model.RecordType(recordType)
	if priority.Valid {
		p := int(priority.Int64)
		sub.Priority = &p
	}
	return sub, nil
}

func collectSubdomains(rows *sql.Rows) ([]*model.Subdomain, error) {
	var subs []*model.Subdomain
	for rows.Next() {
		sub, err := scanSubdomain(rows)
		if err != nil {
			return nil, fmt.Errorf("サブドメインの読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サブドメイン一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// nullInt は*intをsql.NullInt64に変換する。nilの場合はNULLとなる。
func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// isUniqueViolation はerrが一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}

// compile-time interface check
var _ SubdomainRepository = (*PostgresSubdomainRepo)(nil)
