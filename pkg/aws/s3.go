package aws

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/gauss-ops/gs-expansion/internal/resources"
)

// ParseS3URL splits s3://bucket/key into its bucket and key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%s is not an s3://bucket/key url", raw)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("%s does not name an object", raw)
	}

	return u.Host, key, nil
}

// Download fetches the object behind s3URL into dir and returns the local path.
// The file keeps the base name of the object key.
func (c Client) Download(ctx context.Context, s3URL, dir string) (string, error) {
	bucket, key, err := ParseS3URL(s3URL)
	if err != nil {
		return "", err
	}

	output, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get object %s: %w", s3URL, err)
	}
	defer output.Body.Close()

	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	dest := filepath.Join(dir, path.Base(key))
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	n, err := io.Copy(f, output.Body)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", s3URL, err)
	}
	resources.LogLevel("info", "downloaded %s (%d bytes) to %s", s3URL, n, dest)

	return dest, nil
}
