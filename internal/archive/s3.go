// Package archive copies written reports to object storage.
package archive

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/m-mizutani/goerr/v2"

	"socialplus-report/internal/apperr"
)

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads report files to <bucket>/<prefix>/<file name>.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Key returns the object key for the local file.
func (a *S3Archiver) Key(file string) string {
	return path.Join(a.prefix, filepath.Base(file))
}

// Archive uploads file and returns its s3:// location.
func (a *S3Archiver) Archive(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open report for archiving",
			goerr.V("path", file),
			goerr.T(apperr.TagFileWrite))
	}
	defer f.Close()

	key := a.Key(file)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to upload report",
			goerr.V("bucket", a.bucket),
			goerr.V("key", key))
	}
	return "s3://" + a.bucket + "/" + key, nil
}
