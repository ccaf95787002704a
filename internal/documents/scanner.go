package documents

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Skipped is a file the scan found but will not index
type Skipped struct {
	ID     string
	Reason string

	// SupersededBy names the higher-priority variant that replaced this
	// file, empty when the file was skipped for another reason.
	SupersededBy string
}

// Scanner walks a source tree and yields the documents to index
type Scanner struct {
	ignorePrefixes []string
	log            *zap.Logger
}

// NewScanner creates a scanner that ignores names starting with any of prefixes
func NewScanner(ignorePrefixes []string, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}

	return &Scanner{
		ignorePrefixes: ignorePrefixes,
		log:            log.With(zap.String("component", "scanner")),
	}
}

// Ignored reports whether a file or directory name is excluded from scans
func (s *Scanner) Ignored(name string) bool {
	for _, prefix := range s.ignorePrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Scan walks root and returns the documents in lexical order of their
// identifiers. Within one directory, files sharing a stem are reduced to the
// highest-priority format and the rest are returned as skipped.
func (s *Scanner) Scan(ctx context.Context, root string) ([]Document, []Skipped, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	rootCategory := filepath.Base(root)

	type group struct {
		winner Document
		losers []Document
	}

	groups := make(map[string]*group)
	var order []string
	var unreadable []Skipped

	// skip records an entry the walk could not read and moves past it
	skip := func(path string, d fs.DirEntry, err error) error {
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		s.log.Warn("skipping unreadable entry", zap.String("path", path), zap.Error(err))
		unreadable = append(unreadable, Skipped{
			ID:     filepath.ToSlash(rel),
			Reason: fmt.Sprintf("unreadable: %v", err),
		})

		if d != nil && d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return skip(path, d, err)
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if path == root {
			return nil
		}

		if s.Ignored(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		format, ok := FormatFromPath(path)
		if !ok {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// editors replace files while the walk is in progress
			return skip(path, d, err)
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		dir := filepath.Dir(path)
		category := filepath.Base(dir)
		if dir == root {
			category = rootCategory
		}

		doc := Document{
			ID:       filepath.ToSlash(rel),
			Path:     path,
			Format:   format,
			Category: category,
			ModTime:  info.ModTime(),
			Size:     info.Size(),
		}

		name := d.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		key := filepath.ToSlash(filepath.Join(filepath.Dir(rel), strings.ToLower(stem)))

		g, ok := groups[key]
		switch {
		case !ok:
			groups[key] = &group{winner: doc}
			order = append(order, key)
		case doc.Format.Outranks(g.winner.Format):
			g.losers = append(g.losers, g.winner)
			g.winner = doc
		default:
			g.losers = append(g.losers, doc)
		}

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	docs := make([]Document, 0, len(order))
	skipped := unreadable

	for _, key := range order {
		g := groups[key]
		docs = append(docs, g.winner)

		for _, loser := range g.losers {
			reason := fmt.Sprintf("superseded by %s", g.winner.ID)

			s.log.Info("skipping lower-priority duplicate",
				zap.String("document", loser.ID),
				zap.String("kept", g.winner.ID),
			)

			skipped = append(skipped, Skipped{
				ID:           loser.ID,
				Reason:       reason,
				SupersededBy: g.winner.ID,
			})
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].ID < skipped[j].ID })

	return docs, skipped, nil
}
