package fileid

import (
	"path/filepath"
	"testing"
)

func TestContentHash(t *testing.T) {
	h1 := ContentHash([]byte("hello"))
	h2 := ContentHash([]byte("hello"))
	if h1 != h2 {
		t.Errorf("same content should give same hash: %q vs %q", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if h1 != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("unexpected digest %q", h1)
	}
	if ContentHash([]byte("hello!")) == h1 {
		t.Error("different content should give different hashes")
	}
}

func TestSourcePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"absolute", "/foo/bar.jsonl"},
		{"dot segments", "/foo/./baz/../bar.jsonl"},
		{"trailing slash dir", "/foo/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SourcePath(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("SourcePath(%q) = %q, not absolute", tt.in, got)
			}
			if got != filepath.Clean(got) {
				t.Errorf("SourcePath(%q) = %q, not clean", tt.in, got)
			}
		})
	}

	a, _ := SourcePath("/foo/./baz/../bar.jsonl")
	b, _ := SourcePath("/foo/bar.jsonl")
	if a != b {
		t.Errorf("equivalent paths differ: %q vs %q", a, b)
	}

	rel, err := SourcePath("x.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if !filepath.IsAbs(rel) {
		t.Errorf("relative path not resolved: %q", rel)
	}
}
