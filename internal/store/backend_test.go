package store

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/ctxcache/internal/pkg/errors"
)

func TestDiskStore(t *testing.T) {
	dir := t.TempDir()
	st, err := NewDiskStore(dir)
	require.NoError(t, err)
	s := st.(*diskStore)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Set(ctx, "local-1", []byte("payload"), time.Minute))
	_, err = os.Stat(filepath.Join(dir, "local-1.json"))
	require.NoError(t, err)

	reopened, err := NewDiskStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))

	now = now.Add(time.Hour)
	_, err = s.Get(ctx, "local-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "never-set"))
	require.ErrorIs(t, s.Set(ctx, "../escape", []byte("x"), 0), appErr.ErrInvalid)
}

type fakeS3 struct {
	objects map[string][]byte
	meta    map[string]map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.meta[key] = in.Metadata
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), Metadata: f.meta[key]}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	s := NewS3Store(client, "bucket", "/ctx/").(*s3Store)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Set(ctx, "local-1", []byte("body"), time.Minute))
	require.Contains(t, client.objects, "ctx/local-1")
	require.Contains(t, client.meta["ctx/local-1"], s3ExpiresMeta)

	got, err := s.Get(ctx, "local-1")
	require.NoError(t, err)
	require.Equal(t, "body", string(got))

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "local-1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.NotContains(t, client.objects, "ctx/local-1")
}

func TestS3StoreRequiresCredentials(t *testing.T) {
	_, err := New("s3", map[string]interface{}{"bucket": "b"})
	require.Error(t, err)
	_, err = New("disk", map[string]interface{}{})
	require.Error(t, err)
}
