package archive_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/m-mizutani/gt"

	"socialplus-report/internal/apperr"
	"socialplus-report/internal/archive"
)

type fakeS3 struct {
	bucket, key, contentType string
	body                     []byte
	err                      error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.contentType = aws.ToString(in.ContentType)
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver(t *testing.T) {
	file := filepath.Join(t.TempDir(), "socialplus_2024-03-04.csv")
	gt.NoError(t, os.WriteFile(file, []byte("Date,Posts\r\n2024-03-04,2\r\n"), 0644))

	client := &fakeS3{}
	a := archive.NewS3Archiver(client, "reports", "/socialplus/daily/")

	location, err := a.Archive(context.Background(), file)
	gt.NoError(t, err)
	gt.Equal(t, location, "s3://reports/socialplus/daily/socialplus_2024-03-04.csv")
	gt.Equal(t, client.bucket, "reports")
	gt.Equal(t, client.key, "socialplus/daily/socialplus_2024-03-04.csv")
	gt.Equal(t, client.contentType, "text/csv")
	gt.Equal(t, string(client.body), "Date,Posts\r\n2024-03-04,2\r\n")

	t.Run("no prefix", func(t *testing.T) {
		gt.Equal(t, archive.NewS3Archiver(client, "reports", "").Key(file), "socialplus_2024-03-04.csv")
	})

	t.Run("upload failure", func(t *testing.T) {
		a := archive.NewS3Archiver(&fakeS3{err: errors.New("access denied")}, "reports", "")
		_, err := a.Archive(context.Background(), file)
		gt.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := a.Archive(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
		gt.Error(t, err)
		gt.Equal(t, apperr.KindOf(err), apperr.KindFileWrite)
	})
}
