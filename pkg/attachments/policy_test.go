package attachments

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPolicyEmptyPathUsesDefaults(t *testing.T) {
	policy, err := LoadPolicy("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(policy.AllowedPrefixes) == 0 || len(policy.AllowedExtensions) == 0 {
		t.Fatalf("default policy incomplete: %+v", policy)
	}
}

func TestLoadPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := "allowed_prefixes:\n  - /uploads/derma/\nallowed_extensions:\n  - .jpg\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	policy, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(policy.AllowedPrefixes) != 1 || policy.AllowedPrefixes[0] != "/uploads/derma/" {
		t.Fatalf("unexpected prefixes: %v", policy.AllowedPrefixes)
	}
	if !policy.allowsExtension(".jpg") || policy.allowsExtension(".png") {
		t.Fatalf("unexpected extensions: %v", policy.AllowedExtensions)
	}
}

func TestLoadPolicyRejectsEmptyPrefixList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("allowed_extensions:\n  - .jpg\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Fatal("expected error for policy without prefixes")
	}
}

func TestAllowsExtensionIsCaseInsensitive(t *testing.T) {
	policy := DefaultPolicy()
	if !policy.allowsExtension(".JPG") {
		t.Fatal("extension match should ignore case")
	}
}
