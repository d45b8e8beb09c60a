// Package audit exports terminal execution events to object storage.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pranay-harness/harness-core-sub060/internal/engine"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// Config locates the audit bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Validate checks the fields a client needs.
func (c Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return schema.NewError(schema.ErrCodeConfiguration, "audit endpoint is required")
	case c.Bucket == "":
		return schema.NewError(schema.ErrCodeConfiguration, "audit bucket is required")
	}
	return nil
}

// ObjectPutter is the slice of *minio.Client the exporter uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// NewMinIOClient connects to an S3-compatible endpoint.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// EnsureBucket creates the bucket when it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Exporter writes one JSON object per terminal event.
type Exporter struct {
	client ObjectPutter
	bucket string
	prefix string
}

// NewExporter creates an Exporter writing under bucket/prefix.
func NewExporter(client ObjectPutter, bucket, prefix string) *Exporter {
	return &Exporter{client: client, bucket: bucket, prefix: prefix}
}

// ObjectName is the key an event is stored under:
// <prefix>/<execution id>/<unix nanos>-<kind>-<subject>.json.
func (x *Exporter) ObjectName(ev engine.TerminalEvent) string {
	subject := ev.PlanExecutionID
	if ev.Node != nil {
		subject = ev.Node.ID
	}
	name := fmt.Sprintf("%020d-%s-%s.json", ev.At.UnixNano(), ev.Kind, subject)
	return path.Join(x.prefix, ev.PlanExecutionID, name)
}

// Export uploads ev.
func (x *Exporter) Export(ctx context.Context, ev engine.TerminalEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	_, err = x.client.PutObject(ctx, x.bucket, x.ObjectName(ev), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"kind":   string(ev.Kind),
				"status": ev.Status(),
			},
		})
	if err != nil {
		return fmt.Errorf("put audit object: %w", err)
	}
	return nil
}

// Observer adapts Export to the engine observer hook.
func (x *Exporter) Observer() engine.Observer {
	return x.Export
}
