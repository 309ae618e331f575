package storage

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestUploadStoresPublicObject(t *testing.T) {
	putter := &fakePutter{}
	u := NewUploaderWithClient(Config{Bucket: "refs", PublicBaseURL: "https://cdn.example.com/", Prefix: "/uploads/"}, putter)
	u.now = func() time.Time { return time.Date(2026, 4, 7, 10, 0, 0, 0, time.UTC) }

	url, err := u.Upload(context.Background(), pngHeader, "application/octet-stream")
	require.NoError(t, err)

	key := aws.ToString(putter.input.Key)
	assert.Regexp(t, `^uploads/2026/04/07/[0-9a-f-]{36}\.png$`, key)
	assert.Equal(t, "https://cdn.example.com/"+key, url)
	assert.Equal(t, "refs", aws.ToString(putter.input.Bucket))
	assert.Equal(t, "image/png", aws.ToString(putter.input.ContentType))
	assert.Equal(t, types.ObjectCannedACLPublicRead, putter.input.ACL)
	assert.Equal(t, pngHeader, putter.body)
}

func TestUploadRejects(t *testing.T) {
	putter := &fakePutter{}
	u := NewUploaderWithClient(Config{Bucket: "refs", PublicBaseURL: "https://cdn.example.com"}, putter)
	ctx := context.Background()

	_, err := u.Upload(ctx, nil, "image/png")
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = u.Upload(ctx, make([]byte, MaxUploadBytes+1), "image/png")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = u.Upload(ctx, []byte("%PDF-1.7 not an image"), "application/pdf")
	assert.ErrorIs(t, err, ErrNotImage)

	assert.Nil(t, putter.input)
}

func TestUploadWrapsStorageError(t *testing.T) {
	putter := &fakePutter{err: io.ErrUnexpectedEOF}
	u := NewUploaderWithClient(Config{Bucket: "refs", PublicBaseURL: "https://cdn.example.com"}, putter)

	_, err := u.Upload(context.Background(), pngHeader, "image/png")
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestNormalizeImageContentType(t *testing.T) {
	ct, err := NormalizeImageContentType("image/JPG; charset=binary", nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", ct)

	ct, err = NormalizeImageContentType("", pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)

	_, err = NormalizeImageContentType("image/gif", nil)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestNewUploaderValidatesConfig(t *testing.T) {
	_, err := NewUploader(Config{})
	assert.Error(t, err)

	u, err := NewUploader(Config{Bucket: "b", Region: "us-east-1", AccessKey: "a", SecretKey: "s", PublicBaseURL: "https://cdn", Endpoint: "http://localhost:9000", UsePathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, "references", u.cfg.Prefix)
}
