package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/models"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
	msg  string
}

func (e *apiError) Error() string                 { return e.msg }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.msg }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

var errNoSuchKey = &apiError{code: "NoSuchKey", msg: "no such key"}

// mockS3 is a thread-safe in-memory S3 backend.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func testStores(t *testing.T) map[string]ChunkStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bs, err := NewBadgerStore("", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = bs.Close() })
	return map[string]ChunkStore{
		"file":   fs,
		"badger": bs,
		"s3":     NewS3Store(newMockS3(), "bucket", "chunks/"),
	}
}

func TestChunkStores(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Read(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("Read missing err=%v, want ErrNotFound", err)
			}

			if err := store.Write(ctx, "p-000001", []byte("one")); err != nil {
				t.Fatal(err)
			}
			if err := store.Write(ctx, "p-000000", []byte("zero")); err != nil {
				t.Fatal(err)
			}
			if err := store.Write(ctx, "p-000001", []byte("one-v2")); err != nil {
				t.Fatal(err)
			}

			got, err := store.Read(ctx, "p-000001")
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != "one-v2" {
				t.Errorf("Read=%q, want one-v2", got)
			}

			ids, err := store.List(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 2 || ids[0] != "p-000000" || ids[1] != "p-000001" {
				t.Errorf("List=%v", ids)
			}

			if err := store.Delete(ctx, "p-000000"); err != nil {
				t.Fatal(err)
			}
			if err := store.Delete(ctx, "p-000000"); err != nil {
				t.Errorf("second delete: %v", err)
			}
			if _, err := store.Read(ctx, "p-000000"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("Read deleted err=%v", err)
			}
		})
	}
}

func TestS3Store_WriteFailureIsRetryable(t *testing.T) {
	mock := newMockS3()
	mock.putErr = &apiError{code: "SlowDown", msg: "slow down"}
	store := NewS3Store(mock, "bucket", "")
	err := store.Write(context.Background(), "x-000000", []byte("data"))
	if !models.IsRetryable(err) {
		t.Errorf("err=%v should be retryable", err)
	}
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("default", 7); got != "default-000007" {
		t.Errorf("ChunkID=%s", got)
	}
}
