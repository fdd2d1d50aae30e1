package itembank

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// Provider kinds accepted by NewProvider.
const (
	SourceStatic   = "static"
	SourceDir      = "dir"
	SourceXLSX     = "xlsx"
	SourcePostgres = "postgres"
)

// Source describes where a bank is loaded from.
type Source struct {
	Kind  string
	Path  string // directory for dir, workbook for xlsx
	Sheet string // xlsx only
}

// NewProvider builds the provider for src. The pool is only used by the
// postgres kind.
func NewProvider(src Source, pool *pgxpool.Pool) (Provider, error) {
	switch src.Kind {
	case SourceStatic:
		return SampleProvider()
	case SourceDir:
		return DirProvider{Root: src.Path}, nil
	case SourceXLSX:
		return XLSXProvider{Path: src.Path, Sheet: src.Sheet}, nil
	case SourcePostgres:
		return NewPostgresProvider(pool)
	default:
		return nil, fmt.Errorf("%w: unknown item bank source %q", ErrInvalidBank, src.Kind)
	}
}

// StaticProvider serves a fixed set of records.
type StaticProvider []RawItem

func (p StaticProvider) FetchAll(_ context.Context) ([]RawItem, error) {
	return append([]RawItem(nil), p...), nil
}

// itemFile is the YAML layout read by DirProvider.
type itemFile struct {
	Items []RawItem `yaml:"items"`
}

// DirProvider reads every *.yaml / *.yml file under Root. Each file holds an
// `items:` list; files that fail to parse are skipped with a warning.
type DirProvider struct {
	Root string
}

func (p DirProvider) FetchAll(ctx context.Context) ([]RawItem, error) {
	var paths []string
	err := filepath.Walk(p.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", p.Root, err)
	}
	sort.Strings(paths)

	var items []RawItem
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := loadItemFile(path)
		if err != nil {
			slog.Warn("skipping invalid item file", "path", path, "error", err)
			continue
		}
		items = append(items, loaded...)
	}

	slog.Info("item files read", "root", p.Root, "files", len(paths), "items", len(items))
	return items, nil
}

func loadItemFile(path string) ([]RawItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f itemFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return f.Items, nil
}
