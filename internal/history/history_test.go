package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"argmap/api/internal/doc"
)

func TestSnapshotLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	ctx := context.Background()

	document := doc.New("Oranges are the best fruit.")
	annotations := []doc.Annotation{{ID: "h1", Type: doc.TypeClaim, Text: "Oranges are the best fruit"}}

	if err := svc.RecordState(ctx, "ses-1", "analysis", document, annotations, nil); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "ses-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	edited := doc.New("Oranges are a top-tier fruit.")
	if err := svc.RecordState(ctx, "ses-1", "document edit", edited, annotations, nil); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}

	commits, err := svc.History(ctx, "ses-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(commits))
	}
	if commits[0].Message != "document edit" {
		t.Fatalf("newest commit first, got %q", commits[0].Message)
	}

	state, err := svc.GetStateByHash(ctx, "ses-1", commits[1].Hash)
	if err != nil {
		t.Fatalf("GetStateByHash() error = %v", err)
	}
	if got := doc.PlainText(state.Document); got != "Oranges are the best fruit." {
		t.Fatalf("unexpected recovered text: %q", got)
	}
	if len(state.Annotations) != 1 || state.Annotations[0].ID != "h1" {
		t.Fatalf("unexpected recovered annotations: %+v", state.Annotations)
	}
}

func TestRecordStateSkipsIdenticalSnapshots(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)
	ctx := context.Background()

	document := doc.New("Same text.")
	if err := svc.RecordState(ctx, "ses-1", "first", document, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.RecordState(ctx, "ses-1", "second", document, nil, nil); err != nil {
		t.Fatal(err)
	}

	commits, err := svc.History(ctx, "ses-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 {
		t.Fatalf("identical state must not commit, got %d commits", len(commits))
	}
}

func TestHistoryOfUnknownSessionIsEmpty(t *testing.T) {
	svc := New(t.TempDir())

	commits, err := svc.History(context.Background(), "missing", 5)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(commits) != 0 {
		t.Fatalf("expected no commits, got %d", len(commits))
	}
}
