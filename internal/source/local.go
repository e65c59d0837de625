package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileFetcher reads a profile from a local file given as an absolute
// path, a ~/ path or a file:// url.
type FileFetcher struct {
	MaxSize int64
}

func (f *FileFetcher) Fetch(ctx context.Context, name, src string) (*Fetched, error) {
	path, err := localPath(src)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "read", Err: err}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "read", Err: fmt.Errorf("stat %s: %w", path, err), Hint: "check that the file exists"}
	}
	if info.IsDir() {
		return nil, &SourceError{Source: name, Operation: "read", Err: fmt.Errorf("%s is a directory", path)}
	}
	if f.MaxSize > 0 && info.Size() > f.MaxSize {
		return nil, tooLarge(name, f.MaxSize)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "read", Err: err}
	}
	defer file.Close()

	var reader io.Reader = file
	if f.MaxSize > 0 {
		reader = io.LimitReader(file, f.MaxSize+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, &SourceError{Source: name, Operation: "read", Err: err}
	}
	if f.MaxSize > 0 && int64(len(content)) > f.MaxSize {
		return nil, tooLarge(name, f.MaxSize)
	}

	return &Fetched{Kind: KindFile, Origin: "file://" + filepath.ToSlash(path), Content: content}, nil
}

func localPath(src string) (string, error) {
	s := strings.TrimSpace(src)
	if len(s) >= 7 && strings.EqualFold(s[:7], "file://") {
		s = s[7:]
	}
	if strings.HasPrefix(s, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding ~: %w", err)
		}
		s = filepath.Join(home, s[2:])
	}
	if !filepath.IsAbs(s) {
		return "", fmt.Errorf("path '%s' must be absolute", s)
	}
	return filepath.Clean(s), nil
}

// InlineFetcher accepts the document text itself as the source.
type InlineFetcher struct {
	MaxSize int64
}

func (f *InlineFetcher) Fetch(ctx context.Context, name, src string) (*Fetched, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SourceError{Source: name, Operation: "read", Err: fmt.Errorf("source is empty"), Hint: "pass a url, a file path or the profile JSON"}
	}
	if f.MaxSize > 0 && int64(len(src)) > f.MaxSize {
		return nil, tooLarge(name, f.MaxSize)
	}
	return &Fetched{Kind: KindInline, Content: []byte(src)}, nil
}
