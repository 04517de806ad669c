package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MikeSquared-Agency/corpusd/internal/conversation"
	"github.com/MikeSquared-Agency/corpusd/internal/converter"
	"github.com/MikeSquared-Agency/corpusd/internal/extractor"
)

// Parser converts one source file into its JSON document.
type Parser interface {
	ParseFile(ctx context.Context, path string) (json.RawMessage, error)
}

// Scanner walks a corpus root and converts every regular file in it.
type Scanner struct {
	root   string
	parser Parser
	logger *slog.Logger
}

// NewScanner creates a scanner over root.
func NewScanner(root string, parser Parser, logger *slog.Logger) *Scanner {
	return &Scanner{root: root, parser: parser, logger: logger}
}

// Root returns the directory this scanner walks.
func (s *Scanner) Root() string {
	return s.root
}

// Scan converts the whole tree and builds the corpus. It returns either a
// complete corpus or exactly one error, never both. Pipeline failures are
// *converter.Error; a cancelled ctx is returned as ctx.Err().
func (s *Scanner) Scan(ctx context.Context) (*conversation.Corpus, error) {
	convs, err := s.Conversations(ctx)
	if err != nil {
		return nil, err
	}
	return extractor.Build(convs), nil
}

// Conversations converts every regular file under the root in walk order.
// Files are converted one at a time; the first failure stops the walk and
// everything accumulated so far is dropped.
func (s *Scanner) Conversations(ctx context.Context) ([]conversation.Conversation, error) {
	convs := []conversation.Conversation{}

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return converter.WalkError(s.enumerationErrors(path, walkErr)...)
		}
		if !d.Type().IsRegular() {
			// Directories are descended into; links and devices are skipped.
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		conv, err := s.convert(ctx, path)
		if err != nil {
			return err
		}
		convs = append(convs, conv)
		return nil
	})
	if err != nil {
		s.logger.Warn("scan failed", "root", s.root, "converted", len(convs), "error", err)
		return nil, err
	}

	s.logger.Info("scan converted corpus", "root", s.root, "conversations", len(convs))
	return convs, nil
}

func (s *Scanner) convert(ctx context.Context, path string) (conversation.Conversation, error) {
	name, err := s.filename(path)
	if err != nil {
		return conversation.Conversation{}, converter.WalkError(err)
	}

	raw, err := s.parser.ParseFile(ctx, path)
	if err != nil {
		return conversation.Conversation{}, err
	}

	var conv conversation.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		s.logger.Warn("converter output is not a conversation", "filename", name, "error", err)
		return conversation.Conversation{}, &converter.Error{
			Kind:   converter.KindParserResponseInvalid,
			Detail: string(raw),
		}
	}

	s.logger.Debug("converted file", "filename", name, "messages", len(conv.Messages))
	return conv.WithFilename(name), nil
}

// enumerationErrors returns first followed by the failures of the entries
// after path in its directory, so a WalkError lists every unreadable entry
// of the directory being walked rather than only the first.
func (s *Scanner) enumerationErrors(path string, first error) []error {
	errs := []error{first}
	if filepath.Clean(path) == filepath.Clean(s.root) {
		return errs
	}

	dir, base := filepath.Split(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errs
	}
	for _, e := range entries {
		if e.Name() <= base {
			continue
		}
		if e.IsDir() {
			if _, err := os.ReadDir(filepath.Join(dir, e.Name())); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if _, err := e.Info(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// filename is the slash-separated path of a file relative to the root.
func (s *Scanner) filename(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}
