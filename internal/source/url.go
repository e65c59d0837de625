package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// URLFetcher downloads profiles over HTTP(S).
type URLFetcher struct {
	Client    HTTPClient
	MaxSize   int64         // max document size in bytes (0 = no limit)
	Timeout   time.Duration // fetch timeout (0 = no extra timeout beyond context)
	UserAgent string
}

func (u *URLFetcher) Fetch(ctx context.Context, name, src string) (*Fetched, error) {
	raw := strings.TrimSpace(src)
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "fetch", Err: fmt.Errorf("parsing url: %w", err)}
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return nil, &SourceError{
			Source:    name,
			Operation: "fetch",
			Err:       fmt.Errorf("unsupported scheme '%s'", parsed.Scheme),
			Hint:      "use an http:// or https:// subscription url",
		}
	}
	if parsed.Host == "" {
		return nil, &SourceError{Source: name, Operation: "fetch", Err: fmt.Errorf("url '%s' has no host", raw)}
	}

	content, err := u.fetchURL(ctx, raw, name)
	if err != nil {
		return nil, err
	}
	return &Fetched{Kind: KindURL, Origin: raw, Content: content}, nil
}

func (u *URLFetcher) fetchURL(ctx context.Context, rawURL, name string) ([]byte, error) {
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}

	client := u.Client
	if client == nil {
		client = DefaultHTTPClient{}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "fetch", Err: fmt.Errorf("creating request: %w", err)}
	}
	if u.UserAgent != "" {
		req.Header.Set("User-Agent", u.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "fetch", Err: fmt.Errorf("fetching %s: %w", rawURL, err), Hint: "check network connectivity and URL"}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &SourceError{
			Source:    name,
			Operation: "fetch",
			Err:       fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL),
			Hint:      "check that the subscription url is still valid",
		}
	}

	var reader io.Reader = resp.Body
	if u.MaxSize > 0 {
		if resp.ContentLength > u.MaxSize {
			return nil, tooLarge(name, u.MaxSize)
		}
		reader = io.LimitReader(resp.Body, u.MaxSize+1)
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "fetch", Err: fmt.Errorf("reading response: %w", err)}
	}
	if u.MaxSize > 0 && int64(len(content)) > u.MaxSize {
		return nil, tooLarge(name, u.MaxSize)
	}
	return content, nil
}

func tooLarge(name string, max int64) error {
	return &SourceError{
		Source:    name,
		Operation: "fetch",
		Err:       fmt.Errorf("document exceeds max size %d bytes", max),
		Hint:      "raise fetch.max_size in decky-sbox.yaml",
	}
}
