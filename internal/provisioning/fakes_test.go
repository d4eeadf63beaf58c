package provisioning

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/domainman/internal/model"
	"github.com/hitoshi/domainman/internal/netlify"
	"github.com/hitoshi/domainman/internal/repository"
)

// --- モック ---

// fakeSubRepo はメモリ上のSubdomainRepository。保存時と取得時に値をコピーする。
type fakeSubRepo struct {
	mu     sync.Mutex
	rows   map[int64]model.Subdomain
	nextID int64

	creates int
	updates int
	deletes int

	createFn func(ctx context.Context, sub *model.Subdomain) error
	updateFn func(ctx context.Context, sub *model.Subdomain) error
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{rows: make(map[int64]model.Subdomain)}
}

// seed は検証を経ずに行を追加する。
func (r *fakeSubRepo) seed(label, userID string) *model.Subdomain {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := model.Subdomain{
		ID:           r.nextID,
		Subdomain:    label,
		TargetDomain: "origin.example.com",
		RecordType:   model.RecordTypeCNAME,
		TTL:          3600,
		UserID:       userID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.rows[sub.ID] = sub
	return &sub
}

func (r *fakeSubRepo) row(id int64) (model.Subdomain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.rows[id]
	return sub, ok
}

func (r *fakeSubRepo) mutations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creates + r.updates + r.deletes
}

func (r *fakeSubRepo) CountByUserID(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.rows {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *fakeSubRepo) FindByLabel(ctx context.Context, label string) (*model.Subdomain, error) {
	return r.FindByLabelExcludingID(ctx, label, 0)
}

func (r *fakeSubRepo) FindByLabelExcludingID(_ context.Context, label string, excludeID int64) (*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if strings.EqualFold(s.Subdomain, label) && s.ID != excludeID {
			c := s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *fakeSubRepo) FindByIDAndUserID(_ context.Context, id int64, userID string) (*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok || s.UserID != userID {
		return nil, nil
	}
	return &s, nil
}

func (r *fakeSubRepo) ListByUserID(_ context.Context, userID string) ([]*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subdomain
	for _, s := range r.rows {
		if s.UserID == userID {
			c := s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeSubRepo) ListAll(_ context.Context) ([]*model.Subdomain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Subdomain
	for _, s := range r.rows {
		c := s
		out = append(out, &c)
	}
	return out, nil
}

func (r *fakeSubRepo) Create(ctx context.Context, sub *model.Subdomain) error {
	if r.createFn != nil {
		if err := r.createFn(ctx, sub); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.rows {
		if strings.EqualFold(s.Subdomain, sub.Subdomain) {
			return repository.ErrDuplicateLabel
		}
	}
	r.creates++
	r.nextID++
	sub.ID = r.nextID
	r.rows[sub.ID] = *sub
	return nil
}

func (r *fakeSubRepo) Update(ctx context.Context, sub *model.Subdomain) error {
	if r.updateFn != nil {
		if err := r.updateFn(ctx, sub); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[sub.ID]; !ok {
		return fmt.Errorf("subdomain not found: %d", sub.ID)
	}
	r.updates++
	r.rows[sub.ID] = *sub
	return nil
}

func (r *fakeSubRepo) Delete(_ context.Context, id int64, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.rows[id]; ok && s.UserID == userID {
		r.deletes++
		delete(r.rows, id)
	}
	return nil
}

var _ repository.SubdomainRepository = (*fakeSubRepo)(nil)

// fakeProvider はメモリ上のDNSProvider。呼び出し履歴を記録する。
type fakeProvider struct {
	mu      sync.Mutex
	zone    string // 解決できるゾーン名
	records map[string]netlify.Record
	nextID  int
	calls   []string

	resolveErr error
	findErr    func(hostname string) error
	createErr  error
	updateErr  error
	deleteErr  error

	onCreate func(ctx context.Context)
	// omitCreatedID はIDのない作成レスポンス（本文なしの2xx）を再現する
	omitCreatedID bool
}

func newFakeProvider(zone string) *fakeProvider {
	return &fakeProvider{zone: zone, records: make(map[string]netlify.Record)}
}

// addRecord はプロバイダー側にだけ存在するレコードを追加する。
func (p *fakeProvider) addRecord(hostname string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := fmt.Sprintf("rec-%d", p.nextID)
	p.records[id] = netlify.Record{ID: id, Hostname: hostname, Type: "CNAME", Value: "origin.example.com", TTL: 3600}
	return id
}

func (p *fakeProvider) log(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) history() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// count は指定した操作名で始まる呼び出しの回数を返す。
func (p *fakeProvider) count(prefix string) int {
	n := 0
	for _, c := range p.history() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *fakeProvider) recordByHostname(hostname string) (netlify.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.records {
		if r.Hostname == hostname {
			return r, true
		}
	}
	return netlify.Record{}, false
}

func (p *fakeProvider) ResolveZone(_ context.Context, domain string) (string, error) {
	p.log("resolve " + domain)
	if p.resolveErr != nil {
		return "", p.resolveErr
	}
	if domain != p.zone {
		return "", netlify.ErrNotFound
	}
	return "zone-1", nil
}

func (p *fakeProvider) FindRecord(_ context.Context, _ string, hostname string) (string, error) {
	p.log("find " + hostname)
	if p.findErr != nil {
		if err := p.findErr(hostname); err != nil {
			return "", err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, r := range p.records {
		if netlify.MatchesHostname(r.Hostname, hostname) {
			return id, nil
		}
	}
	return "", netlify.ErrNotFound
}

func (p *fakeProvider) CreateRecord(ctx context.Context, _ string, in netlify.RecordInput) (*netlify.Record, error) {
	p.log("create " + in.Hostname)
	if p.onCreate != nil {
		p.onCreate(ctx)
	}
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	rec := netlify.Record{
		ID:       fmt.Sprintf("rec-%d", p.nextID),
		Hostname: in.Hostname,
		Type:     in.Type,
		Value:    in.Value,
		TTL:      in.TTL,
		Priority: in.Priority,
	}
	p.records[rec.ID] = rec
	if p.omitCreatedID {
		return &netlify.Record{}, nil
	}
	return &rec, nil
}

func (p *fakeProvider) UpdateRecord(_ context.Context, _ string, recordID string, in netlify.RecordInput) (*netlify.Record, error) {
	p.log("update " + in.Hostname)
	if p.updateErr != nil {
		return nil, p.updateErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rec := netlify.Record{
		ID:       recordID,
		Hostname: in.Hostname,
		Type:     in.Type,
		Value:    in.Value,
		TTL:      in.TTL,
		Priority: in.Priority,
	}
	p.records[recordID] = rec
	return &rec, nil
}

func (p *fakeProvider) DeleteRecord(_ context.Context, _ string, recordID string) error {
	p.log("delete " + recordID)
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.records, recordID)
	return nil
}

var _ DNSProvider = (*fakeProvider)(nil)

// stubChecker は指定したラベルだけを拒否するpolicy.Checker。
type stubChecker struct {
	denied map[string]bool
}

func (c stubChecker) IsDisallowed(label string) bool {
	return c.denied[label]
}

// recordingMetrics はサブドメイン操作の結果を記録する。
type recordingMetrics struct {
	mu      sync.Mutex
	results []string
}

func (m *recordingMetrics) RecordProviderRequest(string, string, time.Duration) {}
func (m *recordingMetrics) RecordProvisioning(operation, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, operation+":"+result)
}
func (m *recordingMetrics) SetDriftRecords(string, int) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
