package runner

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		out     string
		want    string
		wantErr bool
	}{
		{"sing-box version 1.11.4\n\nEnvironment: go1.23.4 linux/amd64\n", "1.11.4", false},
		{"sing-box version 1.12.0-beta.3  \n", "1.12.0-beta.3", false},
		{"warning: something\nsing-box version 1.10.1\n", "1.10.1", false},
		{"command not found\n", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parseVersion([]byte(tt.out))
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersion(%q) error = %v, wantErr %v", tt.out, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseVersion(%q) = %q, want %q", tt.out, got, tt.want)
		}
	}
}

func TestCheckMinVersion(t *testing.T) {
	tests := []struct {
		version, min string
		ok           bool
	}{
		{"1.11.4", "1.10.0", true},
		{"1.10.0", "1.10.0", true},
		{"1.9.7", "1.10.0", false},
		{"1.10.0-beta.1", "1.10.0", false},
		{"v1.12.0", "1.10.0", true},
		{"anything", "", true},
		{"garbage", "1.10.0", false},
	}
	for _, tt := range tests {
		err := CheckMinVersion(tt.version, tt.min)
		if (err == nil) != tt.ok {
			t.Errorf("CheckMinVersion(%q, %q) = %v, want ok=%v", tt.version, tt.min, err, tt.ok)
		}
	}
}

type tarEntry struct {
	name string
	body string
	mode int64
	dir  bool
}

func writeTarGz(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body)), Typeflag: tar.TypeReg}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Size = 0
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	tw.Close()
	gz.Close()
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestEnsureBinaryExisting(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "sing-box")
	os.WriteFile(bin, []byte("x"), 0o755)

	extracted, err := EnsureBinary(bin)
	if err != nil || extracted {
		t.Fatalf("EnsureBinary = %v, %v", extracted, err)
	}
}

func TestEnsureBinaryRejectsEscapingEntry(t *testing.T) {
	dir := t.TempDir()
	writeTarGz(t, filepath.Join(dir, "sing-box-1.11.4-linux-amd64.tar.gz"), []tarEntry{
		{name: "sing-box-1.11.4-linux-amd64/", dir: true, mode: 0o755},
		{name: "sing-box-1.11.4-linux-amd64/sing-box", body: "#!/bin/sh\n", mode: 0o755},
		{name: "sing-box-1.11.4-linux-amd64/LICENSE", body: "GPL", mode: 0o644},
		{name: "sing-box-1.11.4-linux-amd64/../../escape", body: "x", mode: 0o644},
	})

	_, err := EnsureBinary(filepath.Join(dir, "sing-box"))
	if err == nil {
		t.Fatal("expected error for the escaping entry")
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape")); statErr == nil {
		t.Error("entry escaped the destination")
	}
}

func TestEnsureBinaryStripsFirstComponent(t *testing.T) {
	dir := t.TempDir()
	writeTarGz(t, filepath.Join(dir, "sing-box-1.11.4-linux-amd64.tar.gz"), []tarEntry{
		{name: "sing-box-1.11.4-linux-amd64/sing-box", body: "#!/bin/sh\n", mode: 0o755},
		{name: "sing-box-1.11.4-linux-amd64/LICENSE", body: "GPL", mode: 0o644},
		{name: "toplevel-only", body: "skipped", mode: 0o644},
	})

	bin := filepath.Join(dir, "sing-box")
	extracted, err := EnsureBinary(bin)
	if err != nil || !extracted {
		t.Fatalf("EnsureBinary = %v, %v", extracted, err)
	}
	info, err := os.Stat(bin)
	if err != nil {
		t.Fatalf("binary missing: %v", err)
	}
	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("binary not executable: %v", info.Mode())
	}
	if _, err := os.Stat(filepath.Join(dir, "LICENSE")); err != nil {
		t.Errorf("LICENSE not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "toplevel-only")); err == nil {
		t.Error("single-component entries should be dropped")
	}
}

func TestEnsureBinaryNoBundle(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "sing-box-1.11.4-linux-arm64.tar.gz"), []byte("x"), 0o644)

	_, err := EnsureBinary(filepath.Join(dir, "sing-box"))
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("EnsureBinary error = %v, want ErrBinaryMissing", err)
	}
}

func TestEnsureBinaryMissingDir(t *testing.T) {
	_, err := EnsureBinary(filepath.Join(t.TempDir(), "nope", "sing-box"))
	if !errors.Is(err, ErrBinaryMissing) {
		t.Fatalf("EnsureBinary error = %v, want ErrBinaryMissing", err)
	}
}
