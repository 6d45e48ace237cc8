package serviceuser

import (
	"context"
	"os"
	"strings"

	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// ObjectScheme prefixes credential locations held in object storage.
const ObjectScheme = "s3://"

// Source yields the raw credential document.
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	String() string
}

// FileSource reads the document from a local path.
type FileSource string

// Read implements [Source].
func (f FileSource) Read(context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalCredentialStore, "serviceuser: cannot read %s", string(f))
	}
	return data, nil
}

func (f FileSource) String() string { return string(f) }

// ObjectReader fetches an object's content. The minio client implements it.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// ObjectSource reads the document from an object store bucket.
type ObjectSource struct {
	Reader ObjectReader
	Bucket string
	Key    string
}

// Read implements [Source].
func (o ObjectSource) Read(ctx context.Context) ([]byte, error) {
	data, err := o.Reader.ReadObject(ctx, o.Bucket, o.Key)
	if err == nil {
		return data, nil
	}
	if sserr.IsNotFound(err) {
		return nil, sserr.Wrapf(err, sserr.CodeInternalCredentialStore, "serviceuser: %s does not exist", o)
	}
	return nil, sserr.Wrapf(err, sserr.CodeUnavailableDependency, "serviceuser: cannot read %s", o)
}

func (o ObjectSource) String() string { return ObjectScheme + o.Bucket + "/" + o.Key }

// ParseSource turns a configured location into a Source. Locations of the
// form s3://bucket/key read through objects; anything else is a file path.
//
// Error codes returned:
//   - [sserr.CodeValidationRequired]: empty location
//   - [sserr.CodeValidation]: malformed object location, or no object reader
func ParseSource(location string, objects ObjectReader) (Source, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "serviceuser: credential store location is required")
	}
	rest, ok := strings.CutPrefix(location, ObjectScheme)
	if !ok {
		return FileSource(location), nil
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return nil, sserr.Newf(sserr.CodeValidation, "serviceuser: %q must look like s3://bucket/key", location)
	}
	if objects == nil {
		return nil, sserr.Newf(sserr.CodeValidation, "serviceuser: %q needs object storage, which is not configured", location)
	}
	return ObjectSource{Reader: objects, Bucket: bucket, Key: key}, nil
}
