// Package provisioning はサブドメインの作成・更新・削除のワークフローを提供する。
//
// 各操作はポリシー検証、件数上限、DBの重複確認、DNSプロバイダーの重複確認を
// 決められた順序で行い、DNSレコードの変更が成功した場合のみDBを更新する。
// DNSレコードの変更を開始した後は呼び出し元のキャンセルに関わらず最後まで実行する。
// DNS変更後、DB更新前にプロセスが停止した場合の不整合は許容し、監査ワーカーで検出する。
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/domainman/internal/metrics"
	"github.com/hitoshi/domainman/internal/model"
	"github.com/hitoshi/domainman/internal/netlify"
	"github.com/hitoshi/domainman/internal/policy"
	"github.com/hitoshi/domainman/internal/repository"
)

// DefaultQuota はユーザーあたりのサブドメイン登録数の上限。
const DefaultQuota = 5

// DNSProvider はDNSプロバイダーに対する操作のインターフェース。
// 不在はnetlify.ErrNotFound、通信失敗はnetlify.ErrUnavailableで表す。
type DNSProvider interface {
	ResolveZone(ctx context.Context, domain string) (string, error)
	FindRecord(ctx context.Context, zoneID, hostname string) (string, error)
	CreateRecord(ctx context.Context, zoneID string, in netlify.RecordInput) (*netlify.Record, error)
	UpdateRecord(ctx context.Context, zoneID, recordID string, in netlify.RecordInput) (*netlify.Record, error)
	DeleteRecord(ctx context.Context, zoneID, recordID string) error
}

// Config はプロビジョニングの設定。プロセス起動時に1回だけ構築する。
type Config struct {
	BaseDomain string // 親ドメイン（例: fosscu.org）
	Quota      int    // 0以下の場合はDefaultQuota
}

// Service はサブドメインのプロビジョニングを行うサービス層。
type Service struct {
	subRepo  repository.SubdomainRepository
	provider DNSProvider
	checker  policy.Checker
	cfg      Config
	logger   *slog.Logger
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	subRepo repository.SubdomainRepository,
	provider DNSProvider,
	checker policy.Checker,
	cfg Config,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *Service {
	if cfg.Quota <= 0 {
		cfg.Quota = DefaultQuota
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		subRepo:  subRepo,
		provider: provider,
		checker:  checker,
		cfg:      cfg,
		logger:   logger,
		metrics:  collector,
		now:      time.Now,
	}
}

// Hostname はラベルに親ドメインを付けたホスト名を返す。
func (s *Service) Hostname(label string) string {
	return label + "." + s.cfg.BaseDomain
}

// Create はサブドメインを作成する。
//
// 検証順序:
//  1. 登録数の上限
//  2. 語句ポリシー
//  3. DB上のラベル重複
//  4. DNSゾーンの解決
//  5. DNSプロバイダー上のレコード重複
//  6. DNSレコードの作成
//  7. DBへの登録
func (s *Service) Create(ctx context.Context, userID string, in model.SubdomainInput) (sub *model.Subdomain, err error) {
	defer func() { s.recordResult("create", err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}

	count, err := s.subRepo.CountByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("サブドメイン数の取得に失敗しました: %w", err)
	}
	if count >= s.cfg.Quota {
		return nil, model.NewQuotaExceededError(s.cfg.Quota)
	}

	if s.checker.IsDisallowed(in.Subdomain) {
		return nil, model.NewPolicyViolationError()
	}

	existing, err := s.subRepo.FindByLabel(ctx, in.Subdomain)
	if err != nil {
		return nil, fmt.Errorf("サブドメインの重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewNameConflictLocalError(in.Subdomain)
	}

	zoneID, err := s.resolveZone(ctx)
	if err != nil {
		return nil, err
	}

	hostname := s.Hostname(in.Subdomain)
	if err := s.ensureRemoteAbsent(ctx, zoneID, hostname, in.Subdomain); err != nil {
		return nil, err
	}

	// ここから先はDNSを変更するため、呼び出し元が切断しても中断しない
	mctx := context.WithoutCancel(ctx)

	rec, err := s.provider.CreateRecord(mctx, zoneID, recordInput(hostname, in))
	if err != nil {
		s.logger.Error("DNSレコードの作成に失敗しました",
			slog.String("user_id", userID),
			slog.String("hostname", hostname),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProvisioningFailedError()
	}

	now := s.now()
	sub = &model.Subdomain{
		Subdomain:    in.Subdomain,
		TargetDomain: in.TargetDomain,
		RecordType:   in.RecordType,
		TTL:          in.TTL,
		Priority:     in.Priority,
		UserID:       userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.subRepo.Create(mctx, sub); err != nil {
		s.compensateCreate(mctx, zoneID, rec, hostname)
		if errors.Is(err, repository.ErrDuplicateLabel) {
			return nil, model.NewNameConflictLocalError(in.Subdomain)
		}
		return nil, fmt.Errorf("サブドメインの登録に失敗しました: %w", err)
	}

	s.logger.Info("サブドメインを作成しました",
		slog.String("user_id", userID),
		slog.Int64("subdomain_id", sub.ID),
		slog.String("hostname", hostname),
		slog.String("record_type", string(sub.RecordType)),
	)
	return sub, nil
}

// Update はサブドメインのラベルとレコード設定を更新する。
//
// ラベルを変更する場合は新しいラベルの重複をDBとDNSプロバイダーの両方で確認し、
// 旧ホスト名のレコードを削除してから新しいホスト名でレコードを作成する。
// 旧レコードの削除は失敗しても処理を続行する。
func (s *Service) Update(ctx context.Context, userID string, id int64, in model.SubdomainInput) (sub *model.Subdomain, err error) {
	defer func() { s.recordResult("update", err) }()

	if err := validateInput(in); err != nil {
		return nil, err
	}

	if s.checker.IsDisallowed(in.Subdomain) {
		return nil, model.NewPolicyViolationError()
	}

	sub, err = s.subRepo.FindByIDAndUserID(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("サブドメインの取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubdomainNotFoundError()
	}

	zoneID, err := s.resolveZone(ctx)
	if err != nil {
		return nil, err
	}

	oldHostname := s.Hostname(sub.Subdomain)
	newHostname := s.Hostname(in.Subdomain)
	renamed := in.Subdomain != sub.Subdomain

	if renamed {
		other, err := s.subRepo.FindByLabelExcludingID(ctx, in.Subdomain, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("サブドメインの重複確認に失敗しました: %w", err)
		}
		if other != nil {
			return nil, model.NewNameConflictLocalError(in.Subdomain)
		}
		if err := s.ensureRemoteAbsent(ctx, zoneID, newHostname, in.Subdomain); err != nil {
			return nil, err
		}
	}

	// ここから先はDNSを変更するため、呼び出し元が切断しても中断しない
	mctx := context.WithoutCancel(ctx)

	if renamed {
		s.deleteRemoteBestEffort(mctx, zoneID, oldHostname)
	}

	// ラベル変更時も旧ホスト名で検索する。旧レコードは削除済みのため通常は作成に進む。
	recordID, err := s.provider.FindRecord(mctx, zoneID, oldHostname)
	switch {
	case err == nil:
		if _, err := s.provider.UpdateRecord(mctx, zoneID, recordID, recordInput(newHostname, in)); err != nil {
			s.logger.Error("DNSレコードの更新に失敗しました",
				slog.String("user_id", userID),
				slog.String("hostname", newHostname),
				slog.String("error", err.Error()),
			)
			return nil, model.NewProvisioningFailedError()
		}
	case errors.Is(err, netlify.ErrNotFound):
		if _, err := s.provider.CreateRecord(mctx, zoneID, recordInput(newHostname, in)); err != nil {
			s.logger.Error("DNSレコードの作成に失敗しました",
				slog.String("user_id", userID),
				slog.String("hostname", newHostname),
				slog.String("error", err.Error()),
			)
			return nil, model.NewProvisioningFailedError()
		}
	default:
		s.logger.Error("DNSレコードの検索に失敗しました",
			slog.String("hostname", oldHostname),
			slog.String("error", err.Error()),
		)
		return nil, model.NewProviderUnavailableError()
	}

	sub.Subdomain = in.Subdomain
	sub.TargetDomain = in.TargetDomain
	sub.RecordType = in.RecordType
	sub.TTL = in.TTL
	sub.Priority = in.Priority
	sub.UpdatedAt = s.now()

	if err := s.subRepo.Update(mctx, sub); err != nil {
		if errors.Is(err, repository.ErrDuplicateLabel) {
			return nil, model.NewNameConflictLocalError(in.Subdomain)
		}
		return nil, fmt.Errorf("サブドメインの更新に失敗しました: %w", err)
	}

	s.logger.Info("サブドメインを更新しました",
		slog.String("user_id", userID),
		slog.Int64("subdomain_id", sub.ID),
		slog.String("hostname", newHostname),
		slog.Bool("renamed", renamed),
	)
	return sub, nil
}

// Delete はサブドメインを削除する。
// DNSレコードの削除はベストエフォートで行い、失敗してもDBからは削除する。
func (s *Service) Delete(ctx context.Context, userID string, id int64) (err error) {
	defer func() { s.recordResult("delete", err) }()

	sub, err := s.subRepo.FindByIDAndUserID(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("サブドメインの取得に失敗しました: %w", err)
	}
	if sub == nil {
		return model.NewSubdomainNotFoundError()
	}

	mctx := context.WithoutCancel(ctx)
	hostname := s.Hostname(sub.Subdomain)

	zoneID, zerr := s.provider.ResolveZone(mctx, s.cfg.BaseDomain)
	if zerr != nil {
		s.logger.Warn("DNSゾーンを解決できないためレコード削除をスキップします",
			slog.String("hostname", hostname),
			slog.String("error", zerr.Error()),
		)
	} else {
		s.deleteRemoteBestEffort(mctx, zoneID, hostname)
	}

	if err := s.subRepo.Delete(mctx, sub.ID, userID); err != nil {
		return fmt.Errorf("サブドメインの削除に失敗しました: %w", err)
	}

	s.logger.Info("サブドメインを削除しました",
		slog.String("user_id", userID),
		slog.Int64("subdomain_id", sub.ID),
		slog.String("hostname", hostname),
	)
	return nil
}

// List はユーザーのサブドメイン一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Subdomain, error) {
	subs, err := s.subRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("サブドメイン一覧の取得に失敗しました: %w", err)
	}
	if subs == nil {
		subs = []*model.Subdomain{}
	}
	return subs, nil
}

// Get はユーザーが所有するサブドメインを返す。
// 存在しない場合と他ユーザー所有の場合は同じNotFoundエラーを返す。
func (s *Service) Get(ctx context.Context, userID string, id int64) (*model.Subdomain, error) {
	sub, err := s.subRepo.FindByIDAndUserID(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("サブドメインの取得に失敗しました: %w", err)
	}
	if sub == nil {
		return nil, model.NewSubdomainNotFoundError()
	}
	return sub, nil
}

// resolveZone は親ドメインのゾーンIDを解決する。不在も通信失敗もProviderUnavailableとする。
func (s *Service) resolveZone(ctx context.Context) (string, error) {
	zoneID, err := s.provider.ResolveZone(ctx, s.cfg.BaseDomain)
	if err != nil {
		s.logger.Error("DNSゾーンの解決に失敗しました",
			slog.String("domain", s.cfg.BaseDomain),
			slog.String("error", err.Error()),
		)
		return "", model.NewProviderUnavailableError()
	}
	return zoneID, nil
}

// ensureRemoteAbsent はhostnameのレコードがDNSプロバイダーに存在しないことを確認する。
func (s *Service) ensureRemoteAbsent(ctx context.Context, zoneID, hostname, label string) error {
	_, err := s.provider.FindRecord(ctx, zoneID, hostname)
	switch {
	case err == nil:
		s.logger.Warn("DNSプロバイダーに同名のレコードが存在します",
			slog.String("hostname", hostname),
		)
		return model.NewNameConflictRemoteError(label)
	case errors.Is(err, netlify.ErrNotFound):
		return nil
	default:
		s.logger.Error("DNSレコードの検索に失敗しました",
			slog.String("hostname", hostname),
			slog.String("error", err.Error()),
		)
		return model.NewProviderUnavailableError()
	}
}

// deleteRemoteBestEffort はhostnameのレコードを検索して削除する。
// 見つからない場合や失敗した場合はログに残して続行する。
func (s *Service) deleteRemoteBestEffort(ctx context.Context, zoneID, hostname string) {
	recordID, err := s.provider.FindRecord(ctx, zoneID, hostname)
	if err != nil {
		if !errors.Is(err, netlify.ErrNotFound) {
			s.logger.Warn("削除対象のDNSレコードの検索に失敗しました",
				slog.String("hostname", hostname),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if err := s.provider.DeleteRecord(ctx, zoneID, recordID); err != nil {
		s.logger.Warn("DNSレコードの削除に失敗しました",
			slog.String("hostname", hostname),
			slog.String("record_id", recordID),
			slog.String("error", err.Error()),
		)
	}
}

// compensateCreate はDB登録に失敗した場合に作成済みのDNSレコードを削除する。
// 作成レスポンスにIDがない場合はホスト名で検索して削除する。
func (s *Service) compensateCreate(ctx context.Context, zoneID string, rec *netlify.Record, hostname string) {
	if rec == nil || rec.ID == "" {
		s.deleteRemoteBestEffort(ctx, zoneID, hostname)
		return
	}
	if err := s.provider.DeleteRecord(ctx, zoneID, rec.ID); err != nil {
		s.logger.Error("作成したDNSレコードの取り消しに失敗しました",
			slog.String("hostname", hostname),
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// recordResult は操作結果をメトリクスに記録する。
func (s *Service) recordResult(operation string, err error) {
	result := "success"
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			result = apiErr.Code
		} else {
			result = "internal_error"
		}
	}
	s.metrics.RecordProvisioning(operation, result)
}

// recordInput はDNSプロバイダーへの送信内容を組み立てる。優先度はMXの場合のみ含める。
func recordInput(hostname string, in model.SubdomainInput) netlify.RecordInput {
	ri := netlify.RecordInput{
		Type:     string(in.RecordType),
		Hostname: hostname,
		Value:    in.TargetDomain,
		TTL:      in.TTL,
	}
	if in.RecordType == model.RecordTypeMX {
		ri.Priority = in.Priority
	}
	return ri
}

// validateInput はリモート呼び出しの前に入力の整合性を確認する。
// 優先度はレコード種別がMXの場合にのみ指定でき、MXの場合は必須。
func validateInput(in model.SubdomainInput) error {
	if in.Subdomain == "" {
		return model.NewInvalidRequestError("subdomain is required")
	}
	if in.TargetDomain == "" {
		return model.NewInvalidRequestError("target_domain is required")
	}
	if rt, ok := model.ParseRecordType(string(in.RecordType)); !ok || rt != in.RecordType {
		return model.NewInvalidRequestError("unsupported record_type")
	}
	if in.TTL <= 0 {
		return model.NewInvalidRequestError("ttl must be a positive integer")
	}
	if in.RecordType == model.RecordTypeMX {
		if in.Priority == nil {
			return model.NewInvalidRequestError("priority is required for MX records")
		}
		if *in.Priority < 0 || *in.Priority > model.MaxPriority {
			return model.NewInvalidRequestError("priority must be between 0 and 65535")
		}
	} else if in.Priority != nil {
		return model.NewInvalidRequestError("priority is only allowed for MX records")
	}
	return nil
}
