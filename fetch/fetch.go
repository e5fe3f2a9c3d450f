// Package fetch implements the input-fetch step from spec.md §4.4:
// retrieving the original crashing input for a crash that arrived with
// input_id rather than an inline input, from the fuzzer-data bucket.
//
// Grounded on storage.go's S3Store from the teacher repo: same
// aws-sdk-go-v2 client/manager pair, same NoSuchKey-to-sentinel-error
// translation.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bondifuzz/crash-analyzer/model"
)

// InputFetcher retrieves the raw bytes of a crashing input previously
// uploaded by the fuzzing worker.
type InputFetcher interface {
	// Fetch loads the whole input into memory. Used by the coordinator,
	// which needs the full byte string to compute input_hash.
	Fetch(ctx context.Context, fuzzerID, fuzzerRev, inputID string) ([]byte, error)

	// Stream opens a lazily-read ChunkReader over the same object,
	// for callers that want to avoid buffering large inputs.
	Stream(ctx context.Context, fuzzerID, fuzzerRev, inputID string) (*ChunkReader, error)
}

// S3Fetcher is the production InputFetcher, backed by the data bucket
// (S3_BUCKET_DATA in spec.md §6).
type S3Fetcher struct {
	client *s3.Client
	bucket string
}

// NewS3Fetcher constructs an S3Fetcher over an already-configured S3
// client, pointed at bucket.
func NewS3Fetcher(client *s3.Client, bucket string) *S3Fetcher {
	return &S3Fetcher{client: client, bucket: bucket}
}

// objectKey reproduces the original object_storage/storage.py layout:
// inputs live under {fuzzer_id}/{fuzzer_rev}/crashes/{input_id}.
func objectKey(fuzzerID, fuzzerRev, inputID string) string {
	return fmt.Sprintf("%s/%s/crashes/%s", fuzzerID, fuzzerRev, inputID)
}

// Fetch downloads the whole object into memory via the S3 download
// manager, mirroring S3Store.downloadObject's NoSuchKey handling.
func (f *S3Fetcher) Fetch(ctx context.Context, fuzzerID, fuzzerRev,
	inputID string) ([]byte, error) {

	key := objectKey(fuzzerID, fuzzerRev, inputID)

	buf := manager.NewWriteAtBuffer(nil)
	downloader := manager.NewDownloader(f.client)
	_, err := downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyErr(err)
	}
	return buf.Bytes(), nil
}

// Stream opens a ChunkReader over the object without buffering it whole,
// grounded on object_storage/storage.py's StreamingDownload async
// iterator (chunk_size=4096, close-on-exhaust/close-on-error).
func (f *S3Fetcher) Stream(ctx context.Context, fuzzerID, fuzzerRev,
	inputID string) (*ChunkReader, error) {

	key := objectKey(fuzzerID, fuzzerRev, inputID)

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyErr(err)
	}
	return &ChunkReader{body: out.Body, chunkSize: defaultChunkSize}, nil
}

const defaultChunkSize = 4096

// ChunkReader is a lazy streaming abstraction over an S3 object body,
// mirroring StreamingDownload: each Next call returns up to chunkSize
// bytes, and the underlying stream is closed automatically once
// exhausted or on any read error. Callers that abandon a ChunkReader
// before exhausting it must still call Close.
type ChunkReader struct {
	body      io.ReadCloser
	chunkSize int
	closed    bool
}

// Next returns the next chunk of up to ChunkSize bytes, or io.EOF once
// the stream is exhausted (at which point the body has already been
// closed). A nil slice is never returned alongside a nil error.
func (c *ChunkReader) Next() ([]byte, error) {
	if c.closed {
		return nil, io.EOF
	}

	buf := make([]byte, c.chunkSize)
	n, err := c.body.Read(buf)
	if n > 0 {
		chunk := buf[:n]
		if err == io.EOF {
			// Surface the final chunk now; report EOF on the next call,
			// matching io.Reader's "may return n > 0 and EOF" contract
			// without losing the last bytes read.
			return chunk, nil
		}
		if err != nil {
			_ = c.Close()
			return chunk, err
		}
		return chunk, nil
	}

	closeErr := c.Close()
	if err != nil && err != io.EOF {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return nil, io.EOF
}

// Close releases the underlying HTTP body. Safe to call more than once.
func (c *ChunkReader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.body.Close()
}

// classifyErr maps S3 errors onto the sentinel kinds from spec.md §7.
func classifyErr(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %v", model.ErrStorageNotFound, err)
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", model.ErrStorageNotFound, err)
	}
	return fmt.Errorf("%w: %v", model.ErrStorageTransport, err)
}
