package poller

import (
	"context"

	"github.com/koustreak/sqlpoll/internal/config"
	"github.com/koustreak/sqlpoll/internal/cursor"
	"github.com/koustreak/sqlpoll/internal/errs"
	"github.com/koustreak/sqlpoll/internal/filestore"
	"github.com/koustreak/sqlpoll/internal/filestore/minio"
)

// NewStore opens the cursor store selected by st. The returned close
// function releases whatever the store holds and is never nil.
func NewStore(ctx context.Context, st config.State) (cursor.Store, func() error, error) {
	noop := func() error { return nil }

	if !st.RecordLastRun {
		return cursor.NullStore{}, noop, nil
	}

	switch st.Backend {
	case "", "file":
		return cursor.NewFileStore(st.Path), noop, nil

	case "object":
		if st.Object == nil {
			return nil, nil, errs.New(errs.ErrKindConfiguration, "state.object is required for the object backend")
		}
		switch st.Object.Provider {
		case "", filestore.ProviderMinIO:
			drv, err := minio.New(ctx, st.Object)
			if err != nil {
				return nil, nil, err
			}
			return cursor.NewObjectStore(drv, st.Object.Bucket, st.Object.Key), drv.Close, nil
		}
		return nil, nil, errs.Newf(errs.ErrKindConfiguration, "unknown object store provider %q", st.Object.Provider)
	}

	return nil, nil, errs.Newf(errs.ErrKindConfiguration, "unknown state backend %q", st.Backend)
}
