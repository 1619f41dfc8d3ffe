// Package history records changes to the data directory as git commits.
//
// It uses go-git, so no git binary is needed.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is a git repository over the data directory.
type Repo struct {
	dir   string
	name  string
	email string
	files []string

	mu   sync.Mutex
	repo *gogit.Repository
}

// Open opens the git repository in dir, initializing it if needed.
//
// files are the paths, relative to dir, staged on each commit. Other files,
// like the configuration holding the JWT secret, are never committed.
func Open(dir, name, email string, files ...string) (*Repo, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return &Repo{dir: dir, name: name, email: email, files: files, repo: repo}, nil
}

// Commit stages the tracked files and commits them with msg.
//
// It returns false when nothing changed.
func (r *Repo) Commit(ctx context.Context, msg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	w, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, f := range r.files {
		if _, err := os.Stat(filepath.Join(r.dir, f)); err != nil {
			if os.IsNotExist(err) {
				// Deleted or never created; stage the removal if it was tracked.
				_, _ = w.Remove(f)
				continue
			}
			return false, fmt.Errorf("failed to stat %s: %w", f, err)
		}
		if _, err := w.Add(f); err != nil {
			return false, fmt.Errorf("failed to stage %s: %w", f, err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if !stagedChanges(status) {
		return false, nil
	}
	sig := &object.Signature{Name: r.name, Email: r.email, When: time.Now()}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// Log returns the subjects of the last n commits, newest first.
func (r *Repo) Log(_ context.Context, n int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		// No commits yet.
		return nil, nil
	}
	defer iter.Close()
	var out []string
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, subject)
	}
	return out, nil
}

// stagedChanges reports whether any tracked file is staged. Untracked files,
// which Status also lists, do not count.
func stagedChanges(s gogit.Status) bool {
	for _, fs := range s {
		if fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			return true
		}
	}
	return false
}
