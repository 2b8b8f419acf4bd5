package attachments

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the security policy for legacy filesystem attachments: which
// directory prefixes may be referenced and which image extensions are
// served at all.
type Policy struct {
	AllowedPrefixes   []string `yaml:"allowed_prefixes" json:"allowed_prefixes"`
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions"`
}

func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DefaultPolicy(), err
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return Policy{}, err
	}

	if len(policy.AllowedPrefixes) == 0 {
		return Policy{}, errors.New("no allowed prefixes configured")
	}
	if len(policy.AllowedExtensions) == 0 {
		policy.AllowedExtensions = DefaultPolicy().AllowedExtensions
	}

	return policy, nil
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedPrefixes:   []string{"/uploads/visits/", "/uploads/patients/"},
		AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".webp", ".gif"},
	}
}

func (p Policy) allowsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range p.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
