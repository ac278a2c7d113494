package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/tone"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRequest() internal.TransformRequest {
	return internal.TransformRequest{
		Persona:      tone.PersonaBoss,
		Contexts:     []tone.Context{tone.ContextScheduleDelay},
		ToneLevel:    tone.LevelPolite,
		OriginalText: "늦어서 죄송합니다. 내일까지 끝낼게요.",
	}
}

func strPtr(s string) *string { return &s }

func TestStore_New_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/test.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestStore_History(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := internal.TransformRecord{
		ID: "req-1", Fingerprint: "fp1", Persona: "BOSS", Contexts: "SCHEDULE_DELAY",
		ToneLevel: "POLITE", SourceText: " 늦어서 죄송합니다 ", Timestamp: time.Now().Add(-time.Minute),
	}
	newer := internal.TransformRecord{
		ID: "req-2", Fingerprint: "fp2", Persona: "CLIENT", Contexts: "REQUEST",
		ToneLevel: "VERY_POLITE", SourceText: "확인해줘", Partial: true, Timestamp: time.Now(),
	}
	for _, rec := range []internal.TransformRecord{older, newer} {
		if err := s.SaveRequest(ctx, rec); err != nil {
			t.Fatalf("SaveRequest failed: %v", err)
		}
	}
	err := s.SaveResult(ctx, ResultRecord{
		RequestID:       "req-1",
		TransformedText: "늦어서 정말 죄송합니다.",
		RiskFlags:       []string{"EMOJI:😀"},
		Attempts:        2,
		Tier:            1,
		Model:           "strong",
		LatencyMs:       120,
	})
	if err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}

	entries, err := s.ListHistory(ctx, 0)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Request.ID != "req-2" || !entries[0].Request.Partial {
		t.Errorf("expected newest partial request first, got %+v", entries[0].Request)
	}
	if entries[0].TransformedText != "" || entries[0].Attempts != 0 {
		t.Errorf("request without result should have empty result fields, got %+v", entries[0])
	}

	got := entries[1]
	if got.Request.SourceText != "늦어서 죄송합니다" {
		t.Errorf("source text not normalised: %q", got.Request.SourceText)
	}
	if got.Attempts != 2 || got.Tier != 1 || got.LatencyMs != 120 {
		t.Errorf("unexpected result fields: %+v", got)
	}
	if !reflect.DeepEqual(got.RiskFlags, []string{"EMOJI:😀"}) {
		t.Errorf("unexpected risk flags: %v", got.RiskFlags)
	}

	limited, err := s.ListHistory(ctx, 1)
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit to apply, got %d", len(limited))
	}
}

func TestStore_GetCached_Miss(t *testing.T) {
	s := newTestStore(t)

	res, found, err := s.GetCached(context.Background(), "nope", time.Now())
	if err != nil {
		t.Errorf("GetCached failed: %v", err)
	}
	if found || res != nil {
		t.Error("expected miss for unknown fingerprint")
	}
}

func TestStore_GetCached_Hit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	want := internal.TransformResult{
		TransformedText: "늦어서 정말 죄송합니다.",
		AnalysisContext: strPtr("[상황 분석]"),
		RiskFlags:       []string{"LENGTH_OVEREXPANSION"},
	}
	if err := s.SaveCached(ctx, "fp", sampleRequest(), want, now.Add(time.Hour)); err != nil {
		t.Fatalf("SaveCached failed: %v", err)
	}

	got, found, err := s.GetCached(ctx, "fp", now)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("expected %+v, got %+v", want, *got)
	}

	if _, _, err := s.GetCached(ctx, "fp", now); err != nil {
		t.Fatalf("GetCached failed: %v", err)
	}
	entries, err := s.ListCache(ctx)
	if err != nil {
		t.Fatalf("ListCache failed: %v", err)
	}
	if len(entries) != 1 || entries[0].UsageCount != 3 {
		t.Errorf("expected usage count 3 after two hits, got %+v", entries)
	}
	if entries[0].SourceText != sampleRequest().OriginalText {
		t.Errorf("unexpected source text %q", entries[0].SourceText)
	}
}

func TestStore_GetCached_NoAnalysis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveCached(ctx, "fp", sampleRequest(), internal.TransformResult{TransformedText: "x"}, now.Add(time.Hour)); err != nil {
		t.Fatalf("SaveCached failed: %v", err)
	}
	got, found, err := s.GetCached(ctx, "fp", now)
	if err != nil || !found {
		t.Fatalf("expected hit, found=%v err=%v", found, err)
	}
	if got.AnalysisContext != nil || got.RiskFlags != nil {
		t.Errorf("expected nil optional fields, got %+v", got)
	}
}

func TestStore_GetCached_Expired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveCached(ctx, "fp", sampleRequest(), internal.TransformResult{TransformedText: "x"}, now.Add(time.Minute)); err != nil {
		t.Fatalf("SaveCached failed: %v", err)
	}
	if _, found, _ := s.GetCached(ctx, "fp", now.Add(2*time.Minute)); found {
		t.Error("expected expired entry to miss")
	}

	n, err := s.PurgeExpired(ctx, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged row, got %d", n)
	}
}

func TestStore_InvalidateAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := s.SaveCached(ctx, "fp", sampleRequest(), internal.TransformResult{TransformedText: "x"}, now.Add(time.Hour)); err != nil {
		t.Fatalf("SaveCached failed: %v", err)
	}
	if err := s.InvalidateCached(ctx, "fp"); err != nil {
		t.Fatalf("InvalidateCached failed: %v", err)
	}
	if _, found, _ := s.GetCached(ctx, "fp", now); found {
		t.Error("expected invalidated entry to miss")
	}

	stats, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEntries != 1 || stats.InvalidEntries != 1 || stats.ActiveEntries != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if err := s.DeleteCached(ctx, "fp"); err != nil {
		t.Fatalf("DeleteCached failed: %v", err)
	}
	if err := s.DeleteCached(ctx, "fp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.InvalidateCached(ctx, "fp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ClearAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i, fp := range []string{"a", "b", "c"} {
		exp := now.Add(time.Hour)
		if i == 2 {
			exp = now.Add(-time.Second)
		}
		if err := s.SaveCached(ctx, fp, sampleRequest(), internal.TransformResult{TransformedText: fp}, exp); err != nil {
			t.Fatalf("SaveCached failed: %v", err)
		}
	}

	stats, err := s.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := CacheStats{TotalEntries: 3, ActiveEntries: 2, ExpiredEntries: 1, TotalUsage: 3}
	if *stats != want {
		t.Errorf("expected %+v, got %+v", want, *stats)
	}

	n, err := s.ClearCache(ctx)
	if err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 cleared, got %d", n)
	}
	entries, _ := s.ListCache(ctx)
	if len(entries) != 0 {
		t.Errorf("expected empty cache, got %d entries", len(entries))
	}
}

func TestStore_LockedTerms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.AddLockedTerm(ctx, " 프로젝트 알파 ", "codename")
	if err != nil {
		t.Fatalf("AddLockedTerm failed: %v", err)
	}
	if _, err := s.AddLockedTerm(ctx, "김팀장", ""); err != nil {
		t.Fatalf("AddLockedTerm failed: %v", err)
	}

	again, err := s.AddLockedTerm(ctx, "프로젝트 알파", "renamed")
	if err != nil {
		t.Fatalf("AddLockedTerm failed: %v", err)
	}
	if again != id {
		t.Errorf("re-adding a term should keep its ID: %q vs %q", again, id)
	}

	terms, err := s.LockedTerms(ctx)
	if err != nil {
		t.Fatalf("LockedTerms failed: %v", err)
	}
	if !reflect.DeepEqual(terms, []string{"김팀장", "프로젝트 알파"}) {
		t.Errorf("unexpected terms: %v", terms)
	}

	list, err := s.ListLockedTerms(ctx)
	if err != nil {
		t.Fatalf("ListLockedTerms failed: %v", err)
	}
	if list[1].Note != "renamed" {
		t.Errorf("expected note to be replaced, got %q", list[1].Note)
	}

	if err := s.DeleteLockedTerm(ctx, "김팀장"); err != nil {
		t.Errorf("delete by text failed: %v", err)
	}
	if err := s.DeleteLockedTerm(ctx, id); err != nil {
		t.Errorf("delete by ID failed: %v", err)
	}
	if err := s.DeleteLockedTerm(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := s.AddLockedTerm(ctx, "   ", ""); err == nil {
		t.Error("expected error for empty term")
	}
}

func TestNormalizeText(t *testing.T) {
	// "한" as conjoining jamo (NFD) vs precomposed syllable (NFC).
	decomposed := "\u1112\u1161\u11ab"
	if got := normalizeText("  " + decomposed + "  "); got != "\uD55C" {
		t.Errorf("expected NFC composed form, got %q", got)
	}
}
