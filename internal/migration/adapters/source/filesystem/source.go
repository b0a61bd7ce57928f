// Package filesystem reads migration files from a directory
package filesystem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/studiobook/studiobook/internal/migration/app/service"
	"github.com/studiobook/studiobook/internal/migration/domain/model"
)

// Source lists migrations found directly inside a directory
type Source struct {
	fs        afero.Fs
	dir       string
	extension string
}

var _ service.Source = (*Source)(nil)

// New creates a source over dir on fs. An empty extension means model.DefaultExtension.
func New(fs afero.Fs, dir, extension string) *Source {
	if extension == "" {
		extension = model.DefaultExtension
	}
	return &Source{fs: fs, dir: dir, extension: extension}
}

// NewOS creates a source over dir on the local disk
func NewOS(dir, extension string) *Source {
	return New(afero.NewOsFs(), dir, extension)
}

// List returns the regular files in the directory whose name ends in the
// extension, ordered by filename. Subdirectories are not descended into.
func (s *Source) List(ctx context.Context) ([]model.MigrationFile, error) {
	infos, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list %s: %w", model.ErrSourceUnavailable, s.dir, err)
	}

	files := make([]model.MigrationFile, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !model.MatchesExtension(info.Name(), s.extension) {
			continue
		}

		location := filepath.Join(s.dir, info.Name())
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := s.fs.Stat(location)
			if err != nil {
				return nil, fmt.Errorf("%w: failed to stat %s: %w", model.ErrSourceUnavailable, location, err)
			}
			info = target
		}
		if !info.Mode().IsRegular() {
			continue
		}

		files = append(files, model.MigrationFile{
			Filename: info.Name(),
			Location: location,
		})
	}

	model.SortFiles(files)
	return files, nil
}

// Read returns the content of file
func (s *Source) Read(ctx context.Context, file model.MigrationFile) ([]byte, error) {
	location := file.Location
	if location == "" {
		location = filepath.Join(s.dir, file.Filename)
	}

	content, err := afero.ReadFile(s.fs, location)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", model.ErrSourceUnavailable, location, err)
	}
	return content, nil
}
