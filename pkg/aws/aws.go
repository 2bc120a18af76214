package aws

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/gauss-ops/gs-expansion/internal/resources"
)

// Client fetches installation packages from S3.
type Client struct {
	s3 s3iface.S3API
}

// AddS3Client opens a session in region using the default credential chain.
func AddS3Client(region string) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, resources.ReturnLogError("error creating AWS S3 client session: %v", err)
	}

	return &Client{s3: s3.New(sess)}, nil
}

// NewClient wraps an existing S3 API implementation.
func NewClient(api s3iface.S3API) *Client {
	return &Client{s3: api}
}
