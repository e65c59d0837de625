package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ljm625/decky-sbox/internal/metrics"
	"github.com/ljm625/decky-sbox/internal/profile"
	"github.com/ljm625/decky-sbox/internal/runner"
	"github.com/ljm625/decky-sbox/internal/source"
)

const (
	goodProfile  = `{"outbounds":[{"type":"direct","tag":"direct"}]}`
	otherProfile = `{"outbounds":[{"type":"block","tag":"block"}]}`
	badProfile   = `{"outbounds": [`
)

// fakeRunner stands in for runner.Controller.
type fakeRunner struct {
	mu       sync.Mutex
	online   bool
	config   string
	starts   []string
	contents [][]byte
	stops    int
	startErr error
}

func (f *fakeRunner) Start(ctx context.Context, p profile.Profile, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !p.Valid {
		return &runner.StartError{Config: p.Name, Err: runner.ErrProfileInvalid}
	}
	if f.startErr != nil {
		f.online = false
		f.config = ""
		return &runner.StartError{Config: p.Name, Err: f.startErr}
	}
	f.online = true
	f.config = p.Name
	f.starts = append(f.starts, p.Name)
	f.contents = append(f.contents, content)
	return nil
}

func (f *fakeRunner) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = false
	f.config = ""
	f.stops++
	return nil
}

func (f *fakeRunner) Status() runner.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := runner.Status{BinaryVersion: "1.11.0", Online: f.online, Config: f.config, State: runner.Stopped}
	if f.online {
		st.State = runner.Online
	}
	return st
}

func (f *fakeRunner) RefreshVersion(ctx context.Context) (string, error) { return "1.11.0", nil }

func (f *fakeRunner) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

// upstream serves subscription documents the tests can swap.
type upstream struct {
	mu   sync.Mutex
	docs map[string]string
}

func (u *upstream) set(path, doc string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.docs[path] = doc
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/timeout" {
		<-r.Context().Done()
		return
	}
	u.mu.Lock()
	doc, ok := u.docs[r.URL.Path]
	u.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(doc))
}

type fixture struct {
	eng    *Engine
	run    *fakeRunner
	store  *profile.Store
	up     *upstream
	srvURL string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := profile.Open(context.Background(), filepath.Join(dir, "state.db"), filepath.Join(dir, "profiles"))
	if err != nil {
		t.Fatalf("profile.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	up := &upstream{docs: map[string]string{"/good": goodProfile, "/bad": badProfile}}
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	run := &fakeRunner{}
	eng := &Engine{
		Store: store,
		Sources: source.DefaultRegistry(source.Options{
			MaxSize:   1 << 20,
			Timeout:   200 * time.Millisecond,
			UserAgent: "sing-box",
		}),
		Runner:     run,
		Metrics:    metrics.New(prometheus.NewRegistry()),
		AutoSelect: true,
		WebUI:      "http://127.0.0.1:9090/ui",
	}
	return &fixture{eng: eng, run: run, store: store, up: up, srvURL: srv.URL}
}

func (f *fixture) url(path string) string { return f.srvURL + path }

func (f *fixture) mustDownload(t *testing.T, name, src string) profile.Profile {
	t.Helper()
	p, err := f.eng.Download(context.Background(), name, src)
	if err != nil {
		t.Fatalf("Download(%s): %v", name, err)
	}
	return p
}

func (f *fixture) list(t *testing.T) []profile.Profile {
	t.Helper()
	profiles, err := f.eng.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return profiles
}

func selectedNames(profiles []profile.Profile) []string {
	var out []string
	for _, p := range profiles {
		if p.Selected {
			out = append(out, p.Name)
		}
	}
	return out
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("kind = %s, want %s (err: %v)", got, kind, err)
	}
}
