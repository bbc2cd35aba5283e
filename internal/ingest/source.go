package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhaines/ragserver/internal/github"
)

// SourceDoc is one document produced by a Source, ready for chunking.
type SourceDoc struct {
	Path    string
	Content string
	URL     string
}

// Source supplies documents to the pipeline.
type Source interface {
	// Type labels the source in document rows ("file", "github").
	Type() string
	List(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, path string) (*SourceDoc, error)
}

// DirSource walks a local directory for text documents.
type DirSource struct {
	root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{root: root}
}

func (s *DirSource) Type() string { return "file" }

func (s *DirSource) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && p != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".md", ".markdown", ".txt":
			rel, err := filepath.Rel(s.root, p)
			if err != nil {
				return err
			}
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.root, err)
	}
	return paths, nil
}

func (s *DirSource) Fetch(ctx context.Context, path string) (*SourceDoc, error) {
	data, err := os.ReadFile(filepath.Join(s.root, path))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &SourceDoc{Path: path, Content: string(data)}, nil
}

// GitHubSource adapts the GitHub fetcher to the Source interface.
type GitHubSource struct {
	fetcher *github.Fetcher
}

func NewGitHubSource(fetcher *github.Fetcher) *GitHubSource {
	return &GitHubSource{fetcher: fetcher}
}

func (s *GitHubSource) Type() string { return "github" }

func (s *GitHubSource) List(ctx context.Context) ([]string, error) {
	return s.fetcher.ListDocs(ctx)
}

func (s *GitHubSource) Fetch(ctx context.Context, path string) (*SourceDoc, error) {
	doc, err := s.fetcher.FetchDoc(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SourceDoc{Path: doc.Path, Content: doc.Content, URL: doc.URL}, nil
}
