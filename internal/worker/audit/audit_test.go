package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/domainman/internal/model"
	"github.com/hitoshi/domainman/internal/netlify"
)

// --- モック定義 ---

type mockRecordLister struct {
	resolveZoneFn func(ctx context.Context, domain string) (string, error)
	listRecordsFn func(ctx context.Context, zoneID string) ([]netlify.Record, error)
}

func (m *mockRecordLister) ResolveZone(ctx context.Context, domain string) (string, error) {
	if m.resolveZoneFn != nil {
		return m.resolveZoneFn(ctx, domain)
	}
	return "zone-1", nil
}

func (m *mockRecordLister) ListRecords(ctx context.Context, zoneID string) ([]netlify.Record, error) {
	if m.listRecordsFn != nil {
		return m.listRecordsFn(ctx, zoneID)
	}
	return nil, nil
}

type mockSubdomainLister struct {
	listAllFn func(ctx context.Context) ([]*model.Subdomain, error)
}

func (m *mockSubdomainLister) ListAll(ctx context.Context) ([]*model.Subdomain, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

type recordingMetrics struct {
	mu    sync.Mutex
	drift map[string]int
}

func (m *recordingMetrics) RecordProviderRequest(string, string, time.Duration) {}
func (m *recordingMetrics) RecordProvisioning(string, string)                   {}
func (m *recordingMetrics) SetDriftRecords(kind string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.drift == nil {
		m.drift = map[string]int{}
	}
	m.drift[kind] = count
}

var (
	_ RecordLister    = (*mockRecordLister)(nil)
	_ SubdomainLister = (*mockSubdomainLister)(nil)
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func subs(labels ...string) []*model.Subdomain {
	out := make([]*model.Subdomain, len(labels))
	for i, l := range labels {
		out[i] = &model.Subdomain{ID: int64(i + 1), Subdomain: l}
	}
	return out
}

// --- テスト ---

func TestJob_Run_ReportsDriftBothWays(t *testing.T) {
	records := &mockRecordLister{
		listRecordsFn: func(ctx context.Context, zoneID string) ([]netlify.Record, error) {
			if zoneID != "zone-1" {
				t.Errorf("zoneID = %q, want zone-1", zoneID)
			}
			return []netlify.Record{
				{ID: "r1", Hostname: "alpha.fosscu.org"},
				{ID: "r2", Hostname: "orphan.fosscu.org"},
				{ID: "r3", Hostname: "orphan.fosscu.org"}, // 同一ホスト名の複数レコード
				{ID: "r4", Hostname: "fosscu.org"},        // 頂点
				{ID: "r5", Hostname: "deep.alpha.fosscu.org"},
				{ID: "r6", Hostname: "other.example.com"},
			}, nil
		},
	}
	store := &mockSubdomainLister{
		listAllFn: func(context.Context) ([]*model.Subdomain, error) {
			return subs("alpha", "missing"), nil
		},
	}
	collector := &recordingMetrics{}
	var buf bytes.Buffer
	job := NewJob(records, store, "fosscu.org", newTestLogger(&buf), collector)

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if want := []string{"missing.fosscu.org"}; !reflect.DeepEqual(report.MissingRemote, want) {
		t.Errorf("MissingRemote = %v, want %v", report.MissingRemote, want)
	}
	if want := []string{"orphan.fosscu.org"}; !reflect.DeepEqual(report.UnknownRemote, want) {
		t.Errorf("UnknownRemote = %v, want %v", report.UnknownRemote, want)
	}
	if collector.drift[KindMissingRemote] != 1 || collector.drift[KindUnknownRemote] != 1 {
		t.Errorf("drift metrics = %v", collector.drift)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"level":"WARN"`)) {
		t.Errorf("drift should be logged at WARN: %s", buf.String())
	}
}

func TestJob_Run_NoDrift(t *testing.T) {
	records := &mockRecordLister{
		listRecordsFn: func(context.Context, string) ([]netlify.Record, error) {
			// プロバイダーがホスト名の末尾に付加する形式も一致とみなす
			return []netlify.Record{{ID: "r1", Hostname: "alpha.fosscu.org."}}, nil
		},
	}
	store := &mockSubdomainLister{
		listAllFn: func(context.Context) ([]*model.Subdomain, error) { return subs("alpha"), nil },
	}
	collector := &recordingMetrics{}
	var buf bytes.Buffer
	job := NewJob(records, store, "fosscu.org", newTestLogger(&buf), collector)

	report, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(report.MissingRemote) != 0 || len(report.UnknownRemote) != 0 {
		t.Errorf("expected no drift, got %+v", report)
	}
	if collector.drift[KindMissingRemote] != 0 || collector.drift[KindUnknownRemote] != 0 {
		t.Errorf("drift metrics = %v", collector.drift)
	}
}

func TestJob_Run_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		records *mockRecordLister
		store   *mockSubdomainLister
	}{
		{
			name: "ゾーン解決失敗",
			records: &mockRecordLister{resolveZoneFn: func(context.Context, string) (string, error) {
				return "", netlify.ErrNotFound
			}},
			store: &mockSubdomainLister{},
		},
		{
			name: "レコード一覧失敗",
			records: &mockRecordLister{listRecordsFn: func(context.Context, string) ([]netlify.Record, error) {
				return nil, boom
			}},
			store: &mockSubdomainLister{},
		},
		{
			name:    "DB失敗",
			records: &mockRecordLister{},
			store: &mockSubdomainLister{listAllFn: func(context.Context) ([]*model.Subdomain, error) {
				return nil, boom
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := &recordingMetrics{}
			var buf bytes.Buffer
			job := NewJob(tt.records, tt.store, "fosscu.org", newTestLogger(&buf), collector)

			if _, err := job.Run(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if len(collector.drift) != 0 {
				t.Errorf("metrics should not be updated on failure: %v", collector.drift)
			}
		})
	}
}

func TestJob_Start_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	ran := make(chan struct{}, 10)
	store := &mockSubdomainLister{
		listAllFn: func(context.Context) ([]*model.Subdomain, error) {
			ran <- struct{}{}
			return nil, nil
		},
	}
	var buf bytes.Buffer
	job := NewJob(&mockRecordLister{}, store, "fosscu.org", newTestLogger(&buf), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job should run immediately on start")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start should return after cancel")
	}
}
