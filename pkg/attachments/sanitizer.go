package attachments

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var basenamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Sanitizer validates untrusted legacy attachment path strings against the
// policy. Candidates that fail any check are silently dropped: the output
// never reveals which check rejected a path.
type Sanitizer struct {
	root   string
	policy Policy
}

// NewSanitizer builds a sanitizer serving files below root (the process
// upload directory, e.g. "uploads" resolves "/uploads/visits/a.jpg" to
// "uploads/visits/a.jpg" on disk).
func NewSanitizer(root string, policy Policy) *Sanitizer {
	return &Sanitizer{root: root, policy: policy}
}

// Sanitize filters candidates down to canonical, deduplicated paths that
// are inside an allowed prefix, have a safe basename and an allowed image
// extension, and point at an existing regular file. Output order is
// insertion order of the first surviving occurrence.
//
// There is a window between the existence check here and any later read;
// callers still handle "file vanished" at read time.
func (s *Sanitizer) Sanitize(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))

	for _, candidate := range candidates {
		canonical, ok := s.sanitizeOne(candidate)
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

func (s *Sanitizer) sanitizeOne(candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}

	// Collapse ".."/"." segments before any prefix comparison.
	normalized := path.Clean("/" + strings.TrimPrefix(candidate, "/"))
	if normalized == "/" {
		return "", false
	}

	prefix, ok := s.matchPrefix(normalized)
	if !ok {
		return "", false
	}

	base := path.Base(normalized)
	if !basenamePattern.MatchString(base) {
		return "", false
	}

	ext := strings.ToLower(path.Ext(base))
	if ext == "" || !s.policy.allowsExtension(ext) {
		return "", false
	}

	// The served path is recomposed from the matched prefix and basename,
	// never from raw input.
	canonical := prefix + base

	abs := filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(canonical, "/")))
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}

	return canonical, true
}

func (s *Sanitizer) matchPrefix(normalized string) (string, bool) {
	for _, raw := range s.policy.AllowedPrefixes {
		prefix := normalizePrefix(raw)
		if prefix == "/" {
			continue
		}
		if strings.HasPrefix(normalized, prefix) {
			return prefix, true
		}
	}
	return "", false
}

func normalizePrefix(raw string) string {
	prefix := path.Clean("/" + strings.TrimPrefix(raw, "/"))
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
