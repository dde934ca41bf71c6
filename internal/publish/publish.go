// Package publish uploads a finished store snapshot to an S3-compatible bucket.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "application/json"

type Config struct {
	Endpoint  string
	Bucket    string
	Object    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Enabled reports whether publishing was configured at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var missing []string
	if strings.TrimSpace(c.Bucket) == "" {
		missing = append(missing, "bucket")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		missing = append(missing, "access key")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		missing = append(missing, "secret key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("publish endpoint %q set without %s", c.Endpoint, strings.Join(missing, ", "))
	}
	return nil
}

// Snapshot describes one uploaded object.
type Snapshot struct {
	Bucket string
	Object string
	ETag   string
	Size   int64
}

type Publisher struct {
	cfg    Config
	client *minio.Client
}

func New(cfg Config) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("publish endpoint is not configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Publisher{cfg: cfg, client: client}, nil
}

// Publish uploads the file at path. The local file is only read.
func (p *Publisher) Publish(ctx context.Context, path string) (Snapshot, error) {
	object := p.cfg.Object
	if object == "" {
		object = filepath.Base(path)
	}
	info, err := p.client.FPutObject(ctx, p.cfg.Bucket, object, path, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("upload %s to %s/%s: %w", path, p.cfg.Bucket, object, err)
	}
	return Snapshot{Bucket: info.Bucket, Object: info.Key, ETag: info.ETag, Size: info.Size}, nil
}
