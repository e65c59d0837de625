// Package source fetches profile documents from where the user says they
// live: a remote URL, a local file, or text given inline.
package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Source kinds.
const (
	KindURL    = "url"
	KindFile   = "file"
	KindInline = "inline"
)

// Fetched is a retrieved document plus the origin to record for later
// refreshes. Inline documents have no origin.
type Fetched struct {
	Kind    string
	Origin  string
	Content []byte
}

// Fetcher retrieves one kind of source.
type Fetcher interface {
	Fetch(ctx context.Context, name, src string) (*Fetched, error)
}

// SourceError represents a failed fetch of a named profile.
type SourceError struct {
	Source    string
	Operation string
	Err       error
	Hint      string
}

func (e *SourceError) Error() string {
	msg := fmt.Sprintf("%s: %s failed: %s", e.Source, e.Operation, e.Err)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Classify decides which kind of source src is. Anything with a scheme
// other than file:// is treated as a URL so unsupported schemes are
// reported by the URL fetcher.
func Classify(src string) string {
	s := strings.TrimSpace(src)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "file://"):
		return KindFile
	case strings.Contains(s, "://") && !strings.ContainsAny(strings.SplitN(s, "://", 2)[0], " \t\n{[\"'"):
		return KindURL
	case strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~/"):
		return KindFile
	default:
		return KindInline
	}
}

// IsRemote reports whether origin can be fetched again.
func IsRemote(origin string) bool {
	return origin != "" && Classify(origin) != KindInline
}

// Registry maps source kinds to Fetcher implementations.
type Registry struct {
	fetchers map[string]Fetcher
}

// NewRegistry creates a new empty fetcher registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register adds a fetcher for the given source kind.
func (r *Registry) Register(kind string, f Fetcher) {
	r.fetchers[kind] = f
}

// Get returns the fetcher for the given source kind.
func (r *Registry) Get(kind string) (Fetcher, error) {
	f, ok := r.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown source kind '%s', supported kinds: %s", kind, r.supportedKinds())
	}
	return f, nil
}

// Fetch classifies src and hands it to the matching fetcher.
func (r *Registry) Fetch(ctx context.Context, name, src string) (*Fetched, error) {
	f, err := r.Get(Classify(src))
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "fetch", Err: err}
	}
	return f.Fetch(ctx, name, src)
}

func (r *Registry) supportedKinds() string {
	kinds := make([]string, 0, len(r.fetchers))
	for k := range r.fetchers {
		kinds = append(kinds, k)
	}
	if len(kinds) == 0 {
		return "(none registered)"
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", ")
}

// Options configures DefaultRegistry.
type Options struct {
	Client    HTTPClient
	MaxSize   int64
	Timeout   time.Duration
	UserAgent string
}

// DefaultRegistry returns a registry with the url, file and inline
// fetchers sharing one size limit.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(KindURL, &URLFetcher{Client: opts.Client, MaxSize: opts.MaxSize, Timeout: opts.Timeout, UserAgent: opts.UserAgent})
	r.Register(KindFile, &FileFetcher{MaxSize: opts.MaxSize})
	r.Register(KindInline, &InlineFetcher{MaxSize: opts.MaxSize})
	return r
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient returns an HTTPClient using http.DefaultClient.
type DefaultHTTPClient struct{}

func (DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}
