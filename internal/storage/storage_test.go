package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string][]byte
	putErr  error
	removed []string
}

func (f *fakeObjects) PutObject(_ context.Context, _, objectName string, reader io.Reader, _ int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.putErr != nil {
		return minio.UploadInfo{}, f.putErr
	}
	data, _ := io.ReadAll(reader)
	f.objects[objectName] = data
	return minio.UploadInfo{Key: objectName}, nil
}

func (f *fakeObjects) RemoveObject(_ context.Context, _, objectName string, _ minio.RemoveObjectOptions) error {
	f.removed = append(f.removed, objectName)
	delete(f.objects, objectName)
	return nil
}

func (f *fakeObjects) BucketExists(context.Context, string) (bool, error) { return true, nil }

func (f *fakeObjects) MakeBucket(context.Context, string, minio.MakeBucketOptions) error { return nil }

func newTestStore(fake *fakeObjects) *Store {
	s := newStore(fake, "chat", "http://cdn.local/")
	s.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestUploadThenDeleteRoundTrip(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	s := newTestStore(fake)

	att, err := s.Upload(context.Background(), "alice", []byte("png"), "image/png", "Cat.PNG")
	require.NoError(t, err)
	assert.Equal(t, "Cat.PNG", att.FileName)
	assert.True(t, strings.HasPrefix(att.URL, "http://cdn.local/chat/attachments/alice/2026/03/"))
	assert.True(t, strings.HasSuffix(att.URL, ".png"))

	key, err := s.KeyFromURL(att.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), fake.objects[key])

	require.NoError(t, s.Delete(context.Background(), att.URL))
	assert.Equal(t, []string{key}, fake.removed)
}

func TestKeyFromForeignURL(t *testing.T) {
	s := newTestStore(&fakeObjects{objects: map[string][]byte{}})
	_, err := s.KeyFromURL("https://elsewhere/x.png")
	assert.ErrorIs(t, err, ErrForeignURL)
	_, err = s.KeyFromURL("http://cdn.local/chat/")
	assert.ErrorIs(t, err, ErrForeignURL)
}

func TestOwnerFromURL(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}}
	s := newTestStore(fake)

	att, err := s.Upload(context.Background(), "alice", []byte("png"), "image/png", "cat.png")
	require.NoError(t, err)
	owner, ok := s.Owner(att.URL)
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)

	_, ok = s.Owner("https://elsewhere/attachments/alice/x.png")
	assert.False(t, ok)
	_, ok = s.Owner("http://cdn.local/chat/attachments/x.png")
	assert.False(t, ok)

	_, err = s.Upload(context.Background(), "../bob", []byte("png"), "image/png", "cat.png")
	assert.Error(t, err)
	assert.Len(t, fake.objects, 1)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	fake := &fakeObjects{objects: map[string][]byte{}, putErr: errors.New("connection refused")}
	s := newTestStore(fake)

	for i := 0; i < 5; i++ {
		_, err := s.Upload(context.Background(), "alice", []byte("x"), "text/plain", "a.txt")
		require.Error(t, err)
	}
	_, err := s.Upload(context.Background(), "alice", []byte("x"), "text/plain", "a.txt")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "open", s.State())
}
