package runner

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ljm625/decky-sbox/internal/sandbox"
)

// maxExtractedFile bounds a single file unpacked from a bundled archive.
const maxExtractedFile = 256 << 20

var bundlePattern = regexp.MustCompile(`^sing-box.*amd64\.tar\.gz$`)

// EnsureBinary makes sure binary exists, unpacking a bundled
// sing-box-*-amd64.tar.gz from the same directory when it does not. It
// reports whether an archive was extracted.
func EnsureBinary(binary string) (bool, error) {
	if _, err := os.Stat(binary); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	dir := filepath.Dir(binary)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, fmt.Errorf("%w at %s", ErrBinaryMissing, binary)
		}
		return false, err
	}
	var bundles []string
	for _, e := range entries {
		if !e.IsDir() && bundlePattern.MatchString(e.Name()) {
			bundles = append(bundles, e.Name())
		}
	}
	if len(bundles) == 0 {
		return false, fmt.Errorf("%w at %s and no bundled archive in %s", ErrBinaryMissing, binary, dir)
	}
	sort.Strings(bundles)

	if err := extractStripped(filepath.Join(dir, bundles[0]), dir); err != nil {
		return false, fmt.Errorf("extracting %s: %w", bundles[0], err)
	}
	if _, err := os.Stat(binary); err != nil {
		return true, fmt.Errorf("%w: %s did not contain %s", ErrBinaryMissing, bundles[0], filepath.Base(binary))
	}
	return true, nil
}

// extractStripped unpacks a .tar.gz into dest dropping the first path
// component of every entry, as `tar --strip-components=1` does.
func extractStripped(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		rel := stripFirst(hdr.Name)
		if rel == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := sandbox.SafeMkdirAll(dest, rel, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if hdr.Size > maxExtractedFile {
				return fmt.Errorf("%s is larger than %d bytes", hdr.Name, maxExtractedFile)
			}
			data, err := io.ReadAll(io.LimitReader(tr, maxExtractedFile))
			if err != nil {
				return err
			}
			mode := os.FileMode(hdr.Mode).Perm()
			if mode == 0 {
				mode = 0o644
			}
			if err := sandbox.SafeWrite(dest, rel, data, mode); err != nil {
				return err
			}
		default:
			// Links and devices are not needed to run the binary.
		}
	}
}

func stripFirst(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	i := strings.IndexByte(name, '/')
	if i < 0 {
		return ""
	}
	rest := path.Clean(name[i+1:])
	if rest == "." {
		return ""
	}
	return filepath.FromSlash(rest)
}
