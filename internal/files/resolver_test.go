package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveContainment(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}

	tests := []struct {
		logical string
		wantErr bool
	}{
		{"", false},
		{"public", false},
		{"public/docs/readme.txt", false},
		{"private/secret.txt", false},
		{"public//double//slash", false},
		{"/public/leading-slash", false},
		{"public/trailing/", false},
		{"..", true},
		{"../outside", true},
		{"public/../../etc/passwd", true},
		{"public/..", true},
		{"public/a..b", true}, // substring rejection is deliberate
	}
	for _, tt := range tests {
		abs, err := root.Resolve(tt.logical)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Resolve(%q) = %q, want error", tt.logical, abs)
			}
			continue
		}
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.logical, err)
			continue
		}
		if abs != root.Abs() && !strings.HasPrefix(abs, root.Abs()+string(os.PathSeparator)) {
			t.Errorf("Resolve(%q) = %q escapes root %q", tt.logical, abs, root.Abs())
		}
	}
}

func TestResolveRejectsSiblingPrefix(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "files")
	root, err := NewRoot(dir)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}

	// A resolved path like <base>/files-evil shares the root as a string
	// prefix but is a sibling, not a descendant. The check must require a
	// separator after the root.
	sibling := filepath.Join(base, "files-evil")
	if sibling != root.Abs() && strings.HasPrefix(sibling, root.Abs()) {
		if strings.HasPrefix(sibling, root.Abs()+string(os.PathSeparator)) {
			t.Fatalf("sibling %q wrongly classified as descendant of %q", sibling, root.Abs())
		}
	}
}

func TestResolveRoot(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	abs, err := root.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(root): %v", err)
	}
	if abs != root.Abs() {
		t.Errorf("Resolve(\"\") = %q, want %q", abs, root.Abs())
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"public/docs", "public/docs"},
		{"/public/docs/", "public/docs"},
		{"public//docs", "public/docs"},
		{"public\\docs", "public/docs"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTopSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"public", "public"},
		{"public/docs/a.txt", "public"},
		{"/private/x", "private"},
		{"other/thing", "other"},
	}
	for _, tt := range tests {
		if got := TopSegment(tt.in); got != tt.want {
			t.Errorf("TopSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"a.txt", "report final.pdf", "no-extension", ".hidden"}
	// "a..b.txt" contains "..": rejected like any traversal-looking name.
	invalid := []string{"", ".", "..", "a/b", "a\\b", "../x", "a..b.txt"}

	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", name, err)
		}
	}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestRel(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	abs, _ := root.Resolve("public/docs/a.txt")
	if got := root.Rel(abs); got != "public/docs/a.txt" {
		t.Errorf("Rel = %q, want %q", got, "public/docs/a.txt")
	}
	if got := root.Rel(root.Abs()); got != "" {
		t.Errorf("Rel(root) = %q, want \"\"", got)
	}
}
