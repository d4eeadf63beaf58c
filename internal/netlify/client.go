// Package netlify はNetlify DNS APIのクライアントを提供する。
// ゾーン解決、レコード検索、レコードの作成・更新・削除を行う。
// ローカル状態は持たず、各操作は1回のAPI呼び出しで完結する。
package netlify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/domainman/internal/metrics"
)

const (
	// DefaultBaseURL はNetlify APIのベースURL。
	DefaultBaseURL = "https://api.netlify.com/api/v1"
	// DefaultTimeout は1回のAPI呼び出しのタイムアウト。
	DefaultTimeout = 10 * time.Second
	// maxResponseSize はレスポンスボディの上限（10MB）。
	maxResponseSize = 10 * 1024 * 1024
)

var (
	// ErrNotFound はゾーンやレコードが存在しないことを表す。
	ErrNotFound = errors.New("netlify: not found")
	// ErrUnavailable は通信失敗、タイムアウト、想定外のステータスを表す。
	ErrUnavailable = errors.New("netlify: provider unavailable")
)

// ProviderError はAPI呼び出しの失敗を表す。errors.Is(err, ErrUnavailable) が真になる。
type ProviderError struct {
	Op         string // 操作名（例: create_record）
	StatusCode int    // HTTPステータス。通信エラーの場合は0
	Err        error  // 下位のエラー
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("netlify %s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("netlify %s: %v", e.Op, e.Err)
}

// Unwrap はErrUnavailableと下位のエラーの両方を返す。
func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnavailable}
	}
	return []error{ErrUnavailable, e.Err}
}

// Zone はDNSゾーンを表す。
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record はDNSレコードを表す。
type Record struct {
	ID        string `json:"id"`
	Hostname  string `json:"hostname"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	TTL       int    `json:"ttl"`
	Priority  *int   `json:"priority,omitempty"`
	DNSZoneID string `json:"dns_zone_id,omitempty"`
}

// RecordInput はレコード作成・更新時の送信内容。
// PriorityはTypeがMXの場合のみ送信される。
type RecordInput struct {
	Type     string
	Hostname string
	Value    string
	TTL      int
	Priority *int
}

// recordPayload はAPIに送信するJSON。
type recordPayload struct {
	Type     string `json:"type"`
	Hostname string `json:"hostname"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
}

func (in RecordInput) payload() recordPayload {
	p := recordPayload{
		Type:     strings.ToUpper(in.Type),
		Hostname: in.Hostname,
		Value:    in.Value,
		TTL:      in.TTL,
	}
	if p.Type == "MX" && in.Priority != nil {
		p.Priority = in.Priority
	}
	return p
}

// Config はClientの設定。
type Config struct {
	AccessToken string
	BaseURL     string        // 空の場合はDefaultBaseURL
	Timeout     time.Duration // 0の場合はDefaultTimeout
}

// Client はNetlify DNS APIのクライアント。
// リトライは行わない。失敗は呼び出し元に返す。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string // テスト用にエンドポイントを差し替え可能
	token      string
	timeout    time.Duration
}

// NewClient はClientの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewClient(httpClient *http.Client, cfg Config, logger *slog.Logger, collector metrics.MetricsCollector) *Client {
	endpoint := strings.TrimRight(cfg.BaseURL, "/")
	if endpoint == "" {
		endpoint = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		endpoint:   endpoint,
		token:      cfg.AccessToken,
		timeout:    timeout,
	}
}

// ResolveZone はdomainと名前が完全一致するゾーンのIDを返す。
// ゾーン一覧は毎回取得し、キャッシュしない。
func (c *Client) ResolveZone(ctx context.Context, domain string) (string, error) {
	var zones []Zone
	if err := c.do(ctx, "list_zones", http.MethodGet, "/dns_zones", nil, &zones); err != nil {
		return "", err
	}
	for _, z := range zones {
		if z.Name == domain {
			return z.ID, nil
		}
	}
	return "", ErrNotFound
}

// ListRecords はゾーン内の全レコードを返す。
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]Record, error) {
	var records []Record
	path := "/dns_zones/" + url.PathEscape(zoneID) + "/dns_records"
	if err := c.do(ctx, "list_records", http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindRecord はhostnameに一致するレコードのIDを返す。
// レコードのホスト名がhostnameと等しいか、hostname+"." で始まる場合に一致とみなす。
func (c *Client) FindRecord(ctx context.Context, zoneID, hostname string) (string, error) {
	records, err := c.ListRecords(ctx, zoneID)
	if err != nil {
		return "", err
	}
	for _, r := range records {
		if MatchesHostname(r.Hostname, hostname) {
			return r.ID, nil
		}
	}
	return "", ErrNotFound
}

// MatchesHostname はレコードのホスト名が検索対象のホスト名に一致するかを判定する。
// プロバイダーが返すホスト名の形式差を吸収するため前方一致も許容する。
func MatchesHostname(recordHostname, hostname string) bool {
	return recordHostname == hostname || strings.HasPrefix(recordHostname, hostname+".")
}

// CreateRecord はレコードを作成する。
func (c *Client) CreateRecord(ctx context.Context, zoneID string, in RecordInput) (*Record, error) {
	var rec Record
	path := "/dns_zones/" + url.PathEscape(zoneID) + "/dns_records"
	if err := c.do(ctx, "create_record", http.MethodPost, path, in.payload(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateRecord はレコードを全置換で更新する。
func (c *Client) UpdateRecord(ctx context.Context, zoneID, recordID string, in RecordInput) (*Record, error) {
	var rec Record
	path := "/dns_zones/" + url.PathEscape(zoneID) + "/dns_records/" + url.PathEscape(recordID)
	if err := c.do(ctx, "update_record", http.MethodPut, path, in.payload(), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// DeleteRecord はレコードを削除する。
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	path := "/dns_zones/" + url.PathEscape(zoneID) + "/dns_records/" + url.PathEscape(recordID)
	return c.do(ctx, "delete_record", http.MethodDelete, path, nil, nil)
}

// do はAPIを1回呼び出し、2xxの場合にoutへJSONをデコードする。
func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.RecordProviderRequest(op, outcome, time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Netlify APIの呼び出しに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 接続を再利用できるようにボディを読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		c.logger.Error("Netlify APIがエラーステータスを返しました",
			slog.String("operation", op),
			slog.Int("http_status", resp.StatusCode),
		)
		return &ProviderError{Op: op, StatusCode: resp.StatusCode}
	}

	if out == nil {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return &ProviderError{Op: op, Err: err}
	}
	// 2xxで本文がない場合は成功として扱い、outはゼロ値のままにする
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("Netlify APIのレスポンスのパースに失敗しました",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		return &ProviderError{Op: op, Err: fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)}
	}
	return nil
}
