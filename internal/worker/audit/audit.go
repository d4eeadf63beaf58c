// Package audit はDBとDNSプロバイダーのレコードの差分を検出するジョブを提供する。
// 差分はログとメトリクスで報告するのみで、どちらのシステムも変更しない。
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hitoshi/domainman/internal/metrics"
	"github.com/hitoshi/domainman/internal/model"
	"github.com/hitoshi/domainman/internal/netlify"
)

// 差分の種類。メトリクスのkindラベルに使う。
const (
	KindMissingRemote = "missing_remote" // DBにあるがDNSにない
	KindUnknownRemote = "unknown_remote" // DNSにあるがDBにない
)

// RecordLister はゾーン解決とレコード一覧取得のインターフェース。netlify.Clientが満たす。
type RecordLister interface {
	ResolveZone(ctx context.Context, domain string) (string, error)
	ListRecords(ctx context.Context, zoneID string) ([]netlify.Record, error)
}

// SubdomainLister は全サブドメインを取得するインターフェース。
type SubdomainLister interface {
	ListAll(ctx context.Context) ([]*model.Subdomain, error)
}

// Report は1回の監査結果。
type Report struct {
	MissingRemote []string // DNSレコードが見つからないホスト名
	UnknownRemote []string // DBに対応するサブドメインがないホスト名
}

// Job はDBとDNSの差分を定期的に検出するジョブ。
type Job struct {
	records    RecordLister
	subdomains SubdomainLister
	baseDomain string
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

// NewJob は新しいJobを生成する。
func NewJob(records RecordLister, subdomains SubdomainLister, baseDomain string, logger *slog.Logger, collector metrics.MetricsCollector) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Job{
		records:    records,
		subdomains: subdomains,
		baseDomain: baseDomain,
		logger:     logger,
		metrics:    collector,
	}
}

// Start は起動直後に1回、以降はintervalごとに監査を実行する。ctxがキャンセルされるまでブロックする。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("差分監査ジョブを開始しました", slog.Duration("interval", interval))

	j.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("差分監査ジョブを停止しました")
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *Job) runAndLog(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("差分監査に失敗しました", slog.String("error", err.Error()))
	}
}

// Run は1回の監査を実行する。
// 親ドメイン直下の1ラベルのホスト名のみを比較対象とする。
func (j *Job) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	zoneID, err := j.records.ResolveZone(ctx, j.baseDomain)
	if err != nil {
		return nil, fmt.Errorf("ゾーンの解決に失敗: %w", err)
	}

	remote, err := j.records.ListRecords(ctx, zoneID)
	if err != nil {
		return nil, fmt.Errorf("DNSレコード一覧の取得に失敗: %w", err)
	}

	subs, err := j.subdomains.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("サブドメイン一覧の取得に失敗: %w", err)
	}

	report := j.compare(subs, remote)

	j.metrics.SetDriftRecords(KindMissingRemote, len(report.MissingRemote))
	j.metrics.SetDriftRecords(KindUnknownRemote, len(report.UnknownRemote))

	level := slog.LevelInfo
	if len(report.MissingRemote) > 0 || len(report.UnknownRemote) > 0 {
		level = slog.LevelWarn
	}
	j.logger.Log(ctx, level, "差分監査が完了しました",
		slog.Int("subdomains", len(subs)),
		slog.Int("remote_records", len(remote)),
		slog.Any(KindMissingRemote, report.MissingRemote),
		slog.Any(KindUnknownRemote, report.UnknownRemote),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return report, nil
}

func (j *Job) compare(subs []*model.Subdomain, remote []netlify.Record) *Report {
	report := &Report{
		MissingRemote: []string{},
		UnknownRemote: []string{},
	}

	local := make(map[string]bool, len(subs))
	for _, sub := range subs {
		hostname := sub.Subdomain + "." + j.baseDomain
		local[hostname] = true

		found := false
		for _, rec := range remote {
			if netlify.MatchesHostname(rec.Hostname, hostname) {
				found = true
				break
			}
		}
		if !found {
			report.MissingRemote = append(report.MissingRemote, hostname)
		}
	}

	seen := make(map[string]bool)
	for _, rec := range remote {
		hostname := strings.ToLower(strings.TrimSuffix(rec.Hostname, "."))
		label, ok := strings.CutSuffix(hostname, "."+j.baseDomain)
		if !ok || label == "" || strings.Contains(label, ".") {
			continue
		}
		if local[hostname] || seen[hostname] {
			continue
		}
		seen[hostname] = true
		report.UnknownRemote = append(report.UnknownRemote, hostname)
	}

	sort.Strings(report.MissingRemote)
	sort.Strings(report.UnknownRemote)
	return report
}
