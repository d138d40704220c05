package minio

import (
	"context"
	"errors"
	"net/http"

	"github.com/koustreak/sqlpoll/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
)

// s3Codes maps S3 error codes that decide how the cursor store reacts.
// A missing key means no cursor was stored yet.
var s3Codes = map[string]errs.ErrKind{
	"NoSuchKey":             errs.ErrKindNotFound,
	"NoSuchBucket":          errs.ErrKindNotFound,
	"AccessDenied":          errs.ErrKindPermissionDenied,
	"InvalidAccessKeyId":    errs.ErrKindPermissionDenied,
	"SignatureDoesNotMatch": errs.ErrKindPermissionDenied,
	"InvalidBucketName":     errs.ErrKindInvalidInput,
	"InvalidObjectName":     errs.ErrKindInvalidInput,
	"KeyTooLongError":       errs.ErrKindInvalidInput,
	"RequestTimeout":        errs.ErrKindTimeout,
	"SlowDown":              errs.ErrKindTimeout,
}

// mapError translates a MinIO SDK error into a *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	var resp miniogo.ErrorResponse
	if !errors.As(err, &resp) {
		// network and I/O failures
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}
	if kind, ok := s3Codes[resp.Code]; ok {
		return errs.Wrap(kind, msg, err)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	case http.StatusForbidden, http.StatusUnauthorized:
		return errs.Wrap(errs.ErrKindPermissionDenied, msg, err)
	case http.StatusBadRequest:
		return errs.Wrap(errs.ErrKindInvalidInput, msg, err)
	}
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
