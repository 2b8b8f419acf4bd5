package attachments

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func newTestSanitizer(t *testing.T, files ...string) *Sanitizer {
	t.Helper()
	root := t.TempDir()
	for _, rel := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte("jpeg-bytes"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return NewSanitizer(root, DefaultPolicy())
}

func TestSanitizeAcceptsWellFormedPaths(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/a.jpg", "uploads/patients/b.png")

	got := s.Sanitize([]string{"/uploads/visits/a.jpg", "/uploads/patients/b.png"})
	want := []string{"/uploads/visits/a.jpg", "/uploads/patients/b.png"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSanitizeNormalizesMissingLeadingSlash(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/a.jpg")
	got := s.Sanitize([]string{"uploads/visits/a.jpg"})
	if !reflect.DeepEqual(got, []string{"/uploads/visits/a.jpg"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSanitizeDropsTraversal(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/a.jpg")

	candidates := []string{
		"/uploads/visits/../../etc/passwd",
		"/uploads/visits/../visits/a.jpg",
		"/etc/passwd",
		"/uploads/other/a.jpg",
	}
	// The "../visits/a.jpg" case collapses back inside the allowed prefix
	// and must survive; everything else goes.
	got := s.Sanitize(candidates)
	if !reflect.DeepEqual(got, []string{"/uploads/visits/a.jpg"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSanitizeDropsBadBasenamesAndExtensions(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/a.jpg", "uploads/visits/evil.sh")

	candidates := []string{
		"/uploads/visits/evil.sh",
		"/uploads/visits/no extension",
		"/uploads/visits/sp ace.jpg",
		"/uploads/visits/a.jpg",
	}
	got := s.Sanitize(candidates)
	if !reflect.DeepEqual(got, []string{"/uploads/visits/a.jpg"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSanitizeDropsMissingFiles(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/a.jpg")
	got := s.Sanitize([]string{"/uploads/visits/a.jpg", "/uploads/visits/gone.jpg"})
	if !reflect.DeepEqual(got, []string{"/uploads/visits/a.jpg"}) {
		t.Fatalf("got %v", got)
	}
}

func TestSanitizeDropsDirectories(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "uploads", "visits", "dir.jpg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	s := NewSanitizer(root, DefaultPolicy())
	if got := s.Sanitize([]string{"/uploads/visits/dir.jpg"}); len(got) != 0 {
		t.Fatalf("directory should be rejected, got %v", got)
	}
}

func TestSanitizeDeduplicatesPreservingFirstOccurrence(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/a.jpg", "uploads/visits/b.jpg")

	got := s.Sanitize([]string{
		"/uploads/visits/b.jpg",
		"/uploads/visits/a.jpg",
		"uploads/visits/b.jpg",
		"/uploads/visits/./b.jpg",
	})
	want := []string{"/uploads/visits/b.jpg", "/uploads/visits/a.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSanitizeEmptyAndRootInputs(t *testing.T) {
	s := newTestSanitizer(t)
	if got := s.Sanitize([]string{"", "/", "///"}); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
	if got := s.Sanitize(nil); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestSanitizeExtensionCaseInsensitive(t *testing.T) {
	s := newTestSanitizer(t, "uploads/visits/UPPER.JPG")
	got := s.Sanitize([]string{"/uploads/visits/UPPER.JPG"})
	if !reflect.DeepEqual(got, []string{"/uploads/visits/UPPER.JPG"}) {
		t.Fatalf("got %v", got)
	}
}
