package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"userdesk/client/internal/policy/domain"
)

// FileRepository reads Rego policies from a single .rego file or every .rego file in a directory.
type FileRepository struct {
	path string
}

// NewFileRepository returns a repository for path. An empty path yields no policies.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: strings.TrimSpace(path)}
}

// GetEnabledPolicies reads the policies on every call so edits apply without a restart.
func (r *FileRepository) GetEnabledPolicies(ctx context.Context) ([]*domain.Policy, error) {
	if r.path == "" {
		return nil, nil
	}
	info, err := os.Stat(r.path)
	if err != nil {
		return nil, fmt.Errorf("policy: stat %s: %w", r.path, err)
	}
	files := []string{r.path}
	if info.IsDir() {
		files, err = filepath.Glob(filepath.Join(r.path, "*.rego"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)
	}
	now := time.Now().UTC()
	out := make([]*domain.Policy, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("policy: read %s: %w", f, err)
		}
		rules := string(b)
		out = append(out, &domain.Policy{
			Source:   f,
			Rules:    rules,
			Enabled:  strings.TrimSpace(rules) != "",
			LoadedAt: now,
		})
	}
	return out, nil
}
