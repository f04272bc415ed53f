package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/imagecpr/internal/domain"
)

const DefaultOutputPrefix = "outputs"

var errNoObjectStore = errors.New("object store is not configured")

// ObjectStore is the part of the bucket client that job runs need.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ObjectStoreFetcher reads presigned uploads from the bucket.
type ObjectStoreFetcher struct {
	Storage ObjectStore
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errNoObjectStore
	}
	if !strings.EqualFold(req.SourceType, domain.SourceTypeS3Presigned) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if strings.TrimSpace(req.ObjectKey) == "" {
		return nil, errors.New("object key is required")
	}
	return f.Storage.ReadObject(ctx, req.ObjectKey)
}

// ObjectStoreEmitter writes results to <prefix>/<job id>/output.<ext> with the
// target format's content type.
type ObjectStoreEmitter struct {
	Storage      ObjectStore
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, res Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errNoObjectStore
	}

	key := OutputKey(e.OutputPrefix, req.JobID, res.Format)
	if err := e.Storage.WriteObject(ctx, key, res.Data, res.Format.ContentType()); err != nil {
		return Output{}, err
	}
	return res.output(key), nil
}

// OutputKey is the bucket key a job's result is written to.
func OutputKey(prefix, jobID string, format domain.Format) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultOutputPrefix
	}
	return path.Join(prefix, sanitizePathToken(jobID), outputName(format))
}
