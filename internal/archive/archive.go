// Package archive keeps a durable audit trail of change events in S3 as
// JSONL, one object per flush, partitioned by day.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/ignite/bidguard/internal/events"
)

// S3API is the part of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Archive buffers events and flushes them to S3 on a ticker. It implements
// events.Publisher, so it can sit in an events.Multi next to the queue
// publishers.
type Archive struct {
	client S3API
	bucket string
	prefix string

	mu      sync.Mutex
	pending map[string][]byte // day -> JSONL lines

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an archive writing under s3://bucket/prefix/.
func New(client S3API, bucket, prefix string, interval time.Duration) *Archive {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Archive{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		pending:  make(map[string][]byte),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the background flush loop.
func (a *Archive) Start() {
	a.wg.Add(1)
	go a.flushLoop()
}

// Stop ends the flush loop and writes whatever is still buffered.
func (a *Archive) Stop(ctx context.Context) {
	close(a.stopCh)
	a.wg.Wait()
	a.Flush(ctx)
}

func (a *Archive) flushLoop() {
	defer a.wg.Done()
	tick := time.NewTicker(a.interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			a.Flush(context.Background())
		case <-a.stopCh:
			return
		}
	}
}

// Publish queues evt for the next flush.
func (a *Archive) Publish(_ context.Context, evt events.Event) error {
	line, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("archive: marshal event: %w", err)
	}
	day := evt.OccurredAt.UTC().Format("2006-01-02")
	a.mu.Lock()
	a.pending[day] = append(append(a.pending[day], line...), '\n')
	a.mu.Unlock()
	return nil
}

// Flush writes every buffered day to a new object. Days that fail stay
// queued for the next flush.
func (a *Archive) Flush(ctx context.Context) {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[string][]byte)
	a.mu.Unlock()

	for day, data := range pending {
		key := fmt.Sprintf("%s/dt=%s/%s-%s.jsonl", a.prefix, day, time.Now().UTC().Format("150405"), uuid.New().String()[:8])
		if err := a.putObject(ctx, key, data); err != nil {
			log.Printf("[archive] flush error key=%s: %v", key, err)
			a.mu.Lock()
			a.pending[day] = append(data, a.pending[day]...)
			a.mu.Unlock()
		}
	}
}

// Pending returns the number of buffered bytes, for health reporting.
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, d := range a.pending {
		n += len(d)
	}
	return n
}

// Day reads back every archived event for one UTC day, ordered by time.
func (a *Archive) Day(ctx context.Context, day time.Time) ([]events.Event, error) {
	prefix := fmt.Sprintf("%s/dt=%s/", a.prefix, day.UTC().Format("2006-01-02"))
	var (
		out   []events.Event
		token *string
	)
	for {
		page, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			data, err := a.getObject(ctx, aws.ToString(obj.Key))
			if err != nil {
				return nil, err
			}
			for _, line := range splitJSONL(data) {
				var evt events.Event
				if err := json.Unmarshal(line, &evt); err != nil {
					log.Printf("[archive] skipping malformed line in %s: %v", aws.ToString(obj.Key), err)
					continue
				}
				out = append(out, evt)
			}
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (a *Archive) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (a *Archive) putObject(ctx context.Context, key string, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	return err
}

func splitJSONL(data []byte) [][]byte {
	var lines [][]byte
	for _, l := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, l)
		}
	}
	return lines
}
