package archive

import (
	"strings"
	"testing"

	"storyslip/api/internal/store"
)

func newService(t *testing.T) *Service {
	return New(t.TempDir())
}

func version(n int, summary string) store.ContentVersion {
	return store.ContentVersion{
		ContentID:     "content-1",
		VersionNumber: n,
		Title:         "Title",
		Body:          "Body",
		ChangeSummary: summary,
	}
}

func TestEnsureContentRepoIsIdempotent(t *testing.T) {
	svc := newService(t)

	if err := svc.EnsureContentRepo("content-1"); err != nil {
		t.Fatalf("EnsureContentRepo failed: %v", err)
	}
	if err := svc.EnsureContentRepo("content-1"); err != nil {
		t.Fatalf("second EnsureContentRepo failed: %v", err)
	}
}

func TestCommitVersionAndHistory(t *testing.T) {
	svc := newService(t)

	if err := svc.EnsureContentRepo("content-1"); err != nil {
		t.Fatalf("EnsureContentRepo failed: %v", err)
	}

	info, err := svc.CommitVersion("content-1", version(1, "first draft"), "Ada")
	if err != nil {
		t.Fatalf("CommitVersion failed: %v", err)
	}
	if !strings.HasPrefix(info.Message, "Version 1") {
		t.Errorf("unexpected commit message: %q", info.Message)
	}
	if info.Author != "Ada" {
		t.Errorf("expected author Ada, got %s", info.Author)
	}

	if _, err := svc.CommitVersion("content-1", version(2, ""), "Grace"); err != nil {
		t.Fatalf("second CommitVersion failed: %v", err)
	}

	history, err := svc.History("content-1", 10)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if !strings.HasPrefix(history[0].Message, "Version 2") {
		t.Errorf("history should be newest first, got %q", history[0].Message)
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := newService(t)

	if err := svc.EnsureContentRepo("content-1"); err != nil {
		t.Fatalf("EnsureContentRepo failed: %v", err)
	}
	for n := 1; n <= 5; n++ {
		if _, err := svc.CommitVersion("content-1", version(n, ""), "Ada"); err != nil {
			t.Fatalf("CommitVersion %d failed: %v", n, err)
		}
	}

	history, err := svc.History("content-1", 3)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("expected 3 commits, got %d", len(history))
	}
}

func TestTagRestore(t *testing.T) {
	svc := newService(t)

	if err := svc.EnsureContentRepo("content-1"); err != nil {
		t.Fatalf("EnsureContentRepo failed: %v", err)
	}
	if _, err := svc.CommitVersion("content-1", version(1, ""), "Ada"); err != nil {
		t.Fatalf("CommitVersion failed: %v", err)
	}
	if _, err := svc.CommitVersion("content-1", version(2, "restored version 1"), "Ada"); err != nil {
		t.Fatalf("CommitVersion failed: %v", err)
	}

	if err := svc.TagRestore("content-1", 1, 2); err != nil {
		t.Fatalf("TagRestore failed: %v", err)
	}
	// Tagging the same restore twice must not error.
	if err := svc.TagRestore("content-1", 1, 2); err != nil {
		t.Errorf("repeat TagRestore failed: %v", err)
	}
}
