package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/dshills/vecsearch-mcp/pkg/types"
)

var errInvalidUTF8 = errors.New("file is not valid UTF-8")

// LocalSource reads .md files under a directory tree.
type LocalSource struct {
	Dir string
	skipper
}

// NewLocal returns a source rooted at dir that skips unreadable files.
func NewLocal(dir string, policy ItemErrorPolicy, logger *slog.Logger) *LocalSource {
	return &LocalSource{
		Dir:     dir,
		skipper: skipper{policy: policy, logger: loggerOrDefault(logger)},
	}
}

func (s *LocalSource) Kind() types.SourceKind { return types.SourceLocal }

// Walk visits directories depth-first with an explicit stack. Within a
// directory, files come first in lexical order, then subdirectories.
func (s *LocalSource) Walk(ctx context.Context, fn func(types.Document) error) error {
	s.reset()

	info, err := os.Stat(s.Dir)
	if err != nil {
		return fatal(s.Dir, err)
	}
	if !info.IsDir() {
		return fatal(s.Dir, fmt.Errorf("not a directory"))
	}

	stack := []string{s.Dir}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// os.ReadDir returns entries sorted by name
		entries, err := os.ReadDir(dir)
		if err != nil {
			if dir == s.Dir {
				return fatal(dir, err)
			}
			if err := s.item(dir, err); err != nil {
				return err
			}
			continue
		}

		var subdirs []string
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			if e.IsDir() {
				subdirs = append(subdirs, full)
				continue
			}
			if !isMarkdown(e.Name()) {
				continue
			}

			if err := ctx.Err(); err != nil {
				return err
			}

			doc, err := readLocal(full)
			if err != nil {
				if err := s.item(full, err); err != nil {
					return err
				}
				continue
			}
			if err := fn(doc); err != nil {
				return err
			}
		}

		// Push in reverse so the lexically first subdirectory is popped next
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}
	return nil
}

func readLocal(path string) (types.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return types.Document{}, err
	}
	if !utf8.Valid(content) {
		return types.Document{}, errInvalidUTF8
	}

	ref, body := ParseMarkdown(content)
	return types.Document{
		Reference: ref,
		Body:      body,
		Name:      filepath.Base(path),
		Source:    types.SourceLocal,
	}, nil
}
