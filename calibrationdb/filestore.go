package calibrationdb

import (
	"bytes"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/src-d/go-billy.v4"
	"gopkg.in/src-d/go-billy.v4/osfs"
)

const recordExt = ".json"

// FileStore keeps one JSON record per file.
type FileStore struct {
	fs billy.Filesystem
}

// NewFileStore returns a store over fs.
func NewFileStore(fs billy.Filesystem) *FileStore {
	return &FileStore{fs: fs}
}

// NewOSFileStore returns a store rooted at dir on the local disk.
func NewOSFileStore(dir string) *FileStore {
	return NewFileStore(osfs.New(dir))
}

// Save writes rec to path. The record is written to a temporary file in the same directory and
// renamed over path, so readers never see a partial record.
func (s *FileStore) Save(path string, rec *Record) (err error) {
	var buf bytes.Buffer
	if err := rec.Encode(&buf); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %q", dir)
	}
	tmp, err := s.fs.TempFile(dir, ".calibration-")
	if err != nil {
		return errors.Wrap(err, "creating temporary record file")
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, s.fs.Remove(tmp.Name()))
		}
	}()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		return multierr.Combine(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return s.fs.Rename(tmp.Name(), path)
}

// Load reads the record at path.
func (s *FileStore) Load(path string) (rec *Record, err error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return DecodeRecord(data)
}

// List returns the paths of the records in dir, sorted.
func (s *FileStore) List(dir string) ([]string, error) {
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), recordExt) || strings.HasPrefix(info.Name(), ".") {
			continue
		}
		out = append(out, s.fs.Join(dir, info.Name()))
	}
	sort.Strings(out)
	return out, nil
}
