// Package gitsource keeps local checkouts of git repositories that hold
// markdown card sources.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

// LocalPath maps a repository URL to its checkout directory under baseDir:
// https://github.com/ada/notes.git becomes baseDir/github.com/ada/notes, and
// git@github.com:ada/notes.git maps to the same place.
func LocalPath(baseDir, repoURL string) (string, error) {
	parsedURL, err := url.Parse(repoURL)
	if err != nil || (parsedURL.Scheme != "https" && parsedURL.Scheme != "http" && parsedURL.Scheme != "ssh") {
		if strings.Contains(repoURL, "@") {
			parts := strings.SplitN(repoURL, ":", 2)
			if len(parts) == 2 {
				hostAndUser := strings.Split(parts[0], "@")
				if len(hostAndUser) == 2 && hostAndUser[1] != "" {
					return checkoutPath(baseDir, hostAndUser[1], parts[1])
				}
			}
		}
		return "", fmt.Errorf("could not parse git URL: %s", repoURL)
	}
	return checkoutPath(baseDir, parsedURL.Hostname(), parsedURL.Path)
}

func checkoutPath(baseDir, host, repoPath string) (string, error) {
	repoPath = strings.Trim(strings.TrimSuffix(strings.TrimRight(repoPath, "/"), ".git"), "/")
	clean := filepath.Clean(filepath.Join(host, filepath.FromSlash(repoPath)))
	if host == "" || repoPath == "" || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("could not derive a checkout path from %s/%s", host, repoPath)
	}
	return filepath.Join(baseDir, clean), nil
}

// Syncer clones and pulls repositories.
type Syncer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Syncer {
	return &Syncer{logger: logger}
}

// Sync clones a git repository if it doesn't exist at localPath,
// or pulls the latest changes if it does.
func (s *Syncer) Sync(ctx context.Context, url, localPath string) error {
	_, err := os.Stat(localPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("cloning repository", "url", url, "path", localPath)
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return fmt.Errorf("failed to create repos dir for %s: %w", url, err)
		}
		_, err := git.PlainCloneContext(ctx, localPath, false, &git.CloneOptions{
			URL:   url,
			Depth: 1,
		})
		if err != nil {
			// Leave nothing half-cloned behind for the next attempt to trip over.
			_ = os.RemoveAll(localPath)
			return fmt.Errorf("failed to clone repo %s: %w", url, err)
		}
		s.logger.Info("clone complete", "url", url)

	case err == nil:
		s.logger.Debug("pulling repository", "path", localPath)
		repo, err := git.PlainOpen(localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing repo at %s: %w", localPath, err)
		}

		worktree, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("failed to get worktree for repo at %s: %w", localPath, err)
		}

		err = worktree.PullContext(ctx, &git.PullOptions{RemoteName: "origin"})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return fmt.Errorf("failed to pull changes for repo at %s: %w", localPath, err)
		}
		s.logger.Debug("pull complete", "path", localPath, "up_to_date", err != nil)

	default:
		return fmt.Errorf("error checking path %s: %w", localPath, err)
	}

	return nil
}
