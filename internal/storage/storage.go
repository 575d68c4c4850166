package storage

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const recordExt = ".json"

// FileStore keeps one document per record on an afero filesystem, laid out
// as <root>/<collection>/<escaped id>.json. Tests run it on a MemMapFs.
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore creates a new FileStore rooted at root.
func NewFileStore(fs afero.Fs, root string) *FileStore {
	return &FileStore{fs: fs, root: root}
}

func newOsFs() afero.Fs {
	return afero.NewOsFs()
}

func (s *FileStore) dir(collection string) string {
	return filepath.Join(s.root, url.PathEscape(collection))
}

func (s *FileStore) path(collection, id string) string {
	return filepath.Join(s.dir(collection), url.PathEscape(id)+recordExt)
}

// Put writes the record to a temporary file and renames it into place so a
// crash never leaves a half-written document behind.
func (s *FileStore) Put(ctx context.Context, collection, id string, record []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir(collection), 0755); err != nil {
		return err
	}
	target := s.path(collection, id)
	tmp := target + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, record, 0644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, target)
}

// Get reads a single record.
func (s *FileStore) Get(ctx context.Context, collection, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	data, err := afero.ReadFile(s.fs, s.path(collection, id))
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// GetAll reads every record document in the collection directory.
func (s *FileStore) GetAll(ctx context.Context, collection string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, s.dir(collection))
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	records := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), recordExt) {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(s.dir(collection), entry.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, data)
	}
	return records, nil
}

// Close is a no-op; the filesystem holds no handles between calls.
func (s *FileStore) Close() error {
	return nil
}
