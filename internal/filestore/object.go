package filestore

import (
	"io"
	"time"

	"github.com/koustreak/sqlpoll/internal/errs"
)

// ObjectInfo is the metadata a backend reports for a fetched object.
type ObjectInfo struct {
	Key          string
	Size         int64 // -1 when the backend did not report it
	ETag         string
	LastModified time.Time
}

// Object is the content of one fetched object. Close must be called.
type Object interface {
	io.ReadCloser
	Info() *ObjectInfo
}

// ReadLimited reads the whole object, refusing anything larger than limit
// bytes with errs.ErrKindInvalidInput.
func ReadLimited(obj Object, limit int64) ([]byte, error) {
	if info := obj.Info(); info != nil && info.Size > limit {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "object %q is %d bytes, limit is %d", info.Key, info.Size, limit)
	}
	data, err := io.ReadAll(io.LimitReader(obj, limit+1))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConnectionFailed, "failed to read object", err)
	}
	if int64(len(data)) > limit {
		return nil, errs.Newf(errs.ErrKindInvalidInput, "object is larger than %d bytes", limit)
	}
	return data, nil
}
