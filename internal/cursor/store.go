package cursor

import (
	"context"
	"os"
	"path/filepath"

	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/filestore"
)

// Store persists one cursor value. Write must never leave a partially
// written value behind.
type Store interface {
	// Read returns the stored value, or false when nothing is stored.
	Read(ctx context.Context) (Value, bool, error)
	Write(ctx context.Context, v Value) error
	Clear(ctx context.Context) error
}

// --- file ---

// FileStore keeps the cursor in a local YAML file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Read(_ context.Context) (Value, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, errs.Wrap(errs.ErrKindStateCorruption, "failed to read cursor file "+s.path, err)
	}
	v, err := Decode(data)
	if err != nil {
		return Value{}, false, err
	}
	return v, v.IsSet(), nil
}

// Write replaces the file through a synced temp file in the same
// directory followed by a rename.
func (s *FileStore) Write(_ context.Context, v Value) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to create cursor directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to create temp cursor file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrKindStateWrite, "failed to write cursor file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrKindStateWrite, "failed to sync cursor file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to close cursor file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to replace cursor file", err)
	}
	return nil
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to delete cursor file", err)
	}
	return nil
}

// --- object storage ---

// maxCursorObject bounds what ObjectStore.Read accepts as a cursor.
const maxCursorObject = 4 << 10

// ObjectStore keeps the cursor as a single object; every write is one
// PutObject.
type ObjectStore struct {
	store  filestore.Store
	bucket string
	key    string
}

func NewObjectStore(store filestore.Store, bucket, key string) *ObjectStore {
	return &ObjectStore{store: store, bucket: bucket, key: key}
}

func (s *ObjectStore) Read(ctx context.Context) (Value, bool, error) {
	obj, err := s.store.GetObject(ctx, s.bucket, s.key)
	if errs.IsNotFound(err) {
		return Value{}, false, nil
	}
	if err != nil {
		return Value{}, false, err
	}
	defer obj.Close()

	data, err := filestore.ReadLimited(obj, maxCursorObject)
	if errs.IsInvalidInput(err) {
		return Value{}, false, errs.Wrap(errs.ErrKindStateCorruption, "cursor object is not a cursor", err)
	}
	if err != nil {
		return Value{}, false, err
	}
	v, err := Decode(data)
	if err != nil {
		return Value{}, false, err
	}
	return v, v.IsSet(), nil
}

func (s *ObjectStore) Write(ctx context.Context, v Value) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}
	if err := s.store.PutObject(ctx, s.bucket, s.key, data); err != nil {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to store cursor object", err)
	}
	return nil
}

func (s *ObjectStore) Clear(ctx context.Context) error {
	if err := s.store.RemoveObject(ctx, s.bucket, s.key); err != nil && !errs.IsNotFound(err) {
		return errs.Wrap(errs.ErrKindStateWrite, "failed to remove cursor object", err)
	}
	return nil
}

// --- disabled ---

// NullStore is used when last-run recording is off. It never holds a value.
type NullStore struct{}

func (NullStore) Read(context.Context) (Value, bool, error) { return Value{}, false, nil }
func (NullStore) Write(context.Context, Value) error        { return nil }
func (NullStore) Clear(context.Context) error               { return nil }
