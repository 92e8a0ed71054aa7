package ingest_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"teleosint/internal/config"
	"teleosint/internal/ingest"
	"teleosint/internal/model"
	"teleosint/internal/scoring"
	"teleosint/internal/store"
	"teleosint/internal/translate"
)

func newTestPipeline(t *testing.T, threshold int) *ingest.Pipeline {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	scorer := scoring.New(config.Keywords{EN: []string{"breach"}})
	tr := translate.New(config.TranslationConfig{Enabled: false})
	return ingest.NewPipeline(scorer, tr, st, nil, nil, nil, threshold)
}

func TestPipelineHandlePersistsAboveThreshold(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newTestPipeline(t, 1)

	msg := model.Message{ChatID: 1, MessageID: 1, Date: time.Now(), Text: "a breach occurred"}
	result, err := p.Handle(ctx, msg, "Some Chat", "somechat")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !result.Persisted {
		t.Fatalf("Result.Persisted = false, want true")
	}
	if result.Score != 1 {
		t.Fatalf("Result.Score = %d, want 1", result.Score)
	}

	already, err := p.Store.AlreadyScored(ctx, 1, 1)
	if err != nil || !already {
		t.Fatalf("AlreadyScored() = %v, %v, want true, nil", already, err)
	}
}

func TestPipelineHandleBelowThresholdNotPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newTestPipeline(t, 5)

	msg := model.Message{ChatID: 2, MessageID: 1, Date: time.Now(), Text: "a breach occurred"}
	result, err := p.Handle(ctx, msg, "Some Chat", "somechat")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Persisted {
		t.Fatalf("Result.Persisted = true, want false (score below threshold)")
	}
	if result.Skipped != ingest.SkipLowScore {
		t.Fatalf("Result.Skipped = %q, want %q", result.Skipped, ingest.SkipLowScore)
	}

	already, err := p.Store.AlreadyScored(ctx, 2, 1)
	if err != nil {
		t.Fatalf("AlreadyScored() error = %v", err)
	}
	if already {
		t.Fatalf("AlreadyScored() = true, want false: a below-threshold message must not be stored")
	}
}

func TestPipelineHandleEmptyTextIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newTestPipeline(t, 0)

	result, err := p.Handle(ctx, model.Message{ChatID: 3, MessageID: 1}, "Chat", "chat")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Persisted {
		t.Fatalf("Result.Persisted = true, want false for an empty-text message")
	}
}

func TestPipelineHandleDedupesAlreadyScored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := newTestPipeline(t, 1)

	msg := model.Message{ChatID: 4, MessageID: 1, Date: time.Now(), Text: "a breach occurred"}
	if _, err := p.Handle(ctx, msg, "Chat", "chat"); err != nil {
		t.Fatalf("first Handle() error = %v", err)
	}

	result, err := p.Handle(ctx, msg, "Chat", "chat")
	if err != nil {
		t.Fatalf("second Handle() error = %v", err)
	}
	if result.Persisted {
		t.Fatalf("Result.Persisted = true on a duplicate message, want false")
	}
	if result.Skipped != ingest.SkipAlreadyScored {
		t.Fatalf("Result.Skipped = %q, want %q", result.Skipped, ingest.SkipAlreadyScored)
	}
}

func TestPipelineHandleBlockedChatNotPersisted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	scorer := scoring.New(config.Keywords{EN: []string{"breach"}})
	tr := translate.New(config.TranslationConfig{Enabled: false})
	blocked := func(username string) bool { return username == "badactor" }
	p := ingest.NewPipeline(scorer, tr, st, nil, blocked, nil, 1)

	msg := model.Message{ChatID: 8, MessageID: 1, Date: time.Now(), Text: "a breach occurred"}
	result, err := p.Handle(ctx, msg, "Bad Actor", "badactor")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if result.Persisted {
		t.Fatalf("Result.Persisted = true for a block-listed chat, want false")
	}
	if result.Skipped != ingest.SkipBlocked {
		t.Fatalf("Result.Skipped = %q, want %q", result.Skipped, ingest.SkipBlocked)
	}

	already, err := p.Store.AlreadyScored(ctx, 8, 1)
	if err != nil {
		t.Fatalf("AlreadyScored() error = %v", err)
	}
	if already {
		t.Fatalf("AlreadyScored() = true, want false: a blocked chat's message must never be stored")
	}
}

type stubDetector struct{ lang string }

func (d stubDetector) Detect(string) (string, error) { return d.lang, nil }

func TestPipelineHandleTranslatesForeignHit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"translations":[{"text":"DRONE-JA"}]}`))
	}))
	t.Cleanup(srv.Close)

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	scorer := scoring.New(config.Keywords{EN: []string{"drone"}, JA: []string{"無人機"}})
	tr := translate.New(config.TranslationConfig{
		Enabled:     true,
		Provider:    "deepl",
		TimeoutSec:  2,
		DeepLAPIKey: "key",
		DeepLAPIURL: srv.URL,
	})
	p := ingest.NewPipeline(scorer, tr, st, stubDetector{lang: "en"}, nil, nil, 1)

	msg := model.Message{ChatID: 9, MessageID: 1, Date: time.Now(), Text: "新型無人機 drone"}
	result, err := p.Handle(ctx, msg, "Defense Watch", "defwatch")
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !result.Persisted {
		t.Fatalf("Result.Persisted = false, want true")
	}
	if result.Score != 2 {
		t.Fatalf("Result.Score = %d, want 2 (both keywords hit)", result.Score)
	}
	if calls.Load() != 1 {
		t.Fatalf("translator calls = %d, want exactly 1", calls.Load())
	}
}

func TestNoopLangDetector(t *testing.T) {
	t.Parallel()
	lang, err := ingest.NoopLangDetector{}.Detect("anything")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if lang != "und" {
		t.Fatalf("Detect() = %q, want \"und\"", lang)
	}
}
