package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/bidguard/internal/domain"
	"github.com/ignite/bidguard/internal/events"
)

// fakeS3 is an in-memory bucket.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func event(id string, at time.Time) events.Event {
	return events.Event{
		ID: id, Type: events.ChangeApplied, ChangeID: "c-" + id,
		Entity:         domain.EntityRef{Type: domain.EntityKeyword, ID: "k1"},
		AdjustmentType: domain.AdjustBid, OldValue: 1.5, NewValue: 1.35, OccurredAt: at,
	}
}

func TestArchive_FlushAndReadBack(t *testing.T) {
	ctx := context.Background()
	s3c := newFakeS3()
	a := New(s3c, "audit", "bidguard/changes", time.Hour)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, a.Publish(ctx, event("e2", day.Add(2*time.Hour))))
	require.NoError(t, a.Publish(ctx, event("e1", day.Add(time.Hour))))
	require.NoError(t, a.Publish(ctx, event("e3", day.Add(26*time.Hour))))
	assert.Positive(t, a.Pending())

	a.Flush(ctx)
	assert.Zero(t, a.Pending())
	assert.Len(t, s3c.objects, 2, "one object per day")
	for k := range s3c.objects {
		assert.True(t, strings.HasPrefix(k, "bidguard/changes/dt=2026-03-0"), k)
	}

	got, err := a.Day(ctx, day)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, "e2", got[1].ID)
	assert.Equal(t, 1.35, got[1].NewValue)
}

func TestArchive_FailedFlushIsRequeued(t *testing.T) {
	ctx := context.Background()
	s3c := newFakeS3()
	s3c.putErr = errors.New("slow down")
	a := New(s3c, "audit", "p", time.Hour)
	at := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

	require.NoError(t, a.Publish(ctx, event("e1", at)))
	a.Flush(ctx)
	assert.Positive(t, a.Pending())

	s3c.putErr = nil
	a.Flush(ctx)
	assert.Zero(t, a.Pending())
	got, err := a.Day(ctx, at)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestArchive_StopFlushes(t *testing.T) {
	ctx := context.Background()
	s3c := newFakeS3()
	a := New(s3c, "audit", "p", time.Hour)
	a.Start()
	require.NoError(t, a.Publish(ctx, event("e1", time.Now())))
	a.Stop(ctx)
	assert.Len(t, s3c.objects, 1)
}

func TestSplitJSONL(t *testing.T) {
	lines := splitJSONL([]byte("{\"a\":1}\n\n{\"b\":2}\n"))
	assert.Len(t, lines, 2)
}
