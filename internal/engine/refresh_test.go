package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRefreshRestartsOnlineSelected(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "c1", f.url("/good"))
	if err := f.eng.Toggle(context.Background(), true); err != nil {
		t.Fatalf("Toggle: %v", err)
	}

	f.up.set("/good", otherProfile)
	p, err := f.eng.Refresh(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !p.Valid || !p.Selected {
		t.Errorf("profile = %+v", p)
	}
	if f.run.startCount() != 2 {
		t.Fatalf("starts = %d, want restart", f.run.startCount())
	}
	if string(f.run.contents[1]) != otherProfile {
		t.Errorf("restarted with %q", f.run.contents[1])
	}
}

func TestRefreshOfflineDoesNotStart(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "c1", f.url("/good"))

	if _, err := f.eng.Refresh(context.Background(), "c1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.run.startCount() != 0 {
		t.Errorf("starts = %d, want 0", f.run.startCount())
	}
}

func TestRefreshUnselectedDoesNotRestart(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "c1", f.url("/good"))
	f.mustDownload(t, "c2", f.url("/good"))
	f.eng.Toggle(context.Background(), true)

	if _, err := f.eng.Refresh(context.Background(), "c2"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.run.startCount() != 1 {
		t.Errorf("starts = %d, want 1", f.run.startCount())
	}
}

func TestRefreshFetchFailureKeepsContent(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "c1", f.url("/good"))
	f.up.mu.Lock()
	delete(f.up.docs, "/good")
	f.up.mu.Unlock()

	_, err := f.eng.Refresh(context.Background(), "c1")
	wantKind(t, err, KindFetch)

	content, _ := f.store.Content(context.Background(), "c1")
	if string(content) != goodProfile {
		t.Errorf("content = %q", content)
	}
}

func TestRefreshToInvalidContent(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "c1", f.url("/good"))
	f.eng.Toggle(context.Background(), true)

	f.up.set("/good", badProfile)
	p, err := f.eng.Refresh(context.Background(), "c1")
	wantKind(t, err, KindInvalidConfig)
	if p.Valid || !p.Selected {
		t.Errorf("profile = %+v, want invalid and still selected", p)
	}
	if f.run.startCount() != 1 {
		t.Error("invalid refresh must not restart")
	}
}

func TestRefreshInlineRevalidates(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "local", goodProfile)

	path := filepath.Join(f.store.Dir(), "local.json")
	if err := os.WriteFile(path, []byte(badProfile), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	p, err := f.eng.Refresh(context.Background(), "local")
	wantKind(t, err, KindInvalidConfig)
	if p.Valid {
		t.Error("edited inline profile should now be invalid")
	}

	if err := os.WriteFile(path, []byte(otherProfile), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if p, err = f.eng.Refresh(context.Background(), "local"); err != nil || !p.Valid {
		t.Fatalf("Refresh = %+v, %v", p, err)
	}
	if p.SHA256 == "" {
		t.Error("checksum not recorded")
	}
}

func TestRefreshUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Refresh(context.Background(), "ghost")
	wantKind(t, err, KindNotFound)
}

func TestRefreshRemote(t *testing.T) {
	f := newFixture(t)
	f.mustDownload(t, "a", f.url("/good"))
	f.mustDownload(t, "b", f.url("/good"))
	f.mustDownload(t, "inline", goodProfile)
	f.up.set("/other", otherProfile)
	f.mustDownload(t, "gone", f.url("/other"))
	f.up.mu.Lock()
	delete(f.up.docs, "/other")
	f.up.mu.Unlock()

	report, err := f.eng.RefreshRemote(context.Background())
	if err == nil {
		t.Fatal("expected the failed refresh to be reported")
	}
	if len(report.Refreshed) != 2 || report.Refreshed[0] != "a" || report.Refreshed[1] != "b" {
		t.Errorf("refreshed = %v", report.Refreshed)
	}
	if _, ok := report.Failed["gone"]; !ok || len(report.Failed) != 1 {
		t.Errorf("failed = %v", report.Failed)
	}
}

func TestRevalidateUnknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.Revalidate(context.Background(), "ghost")
	wantKind(t, err, KindNotFound)
}
