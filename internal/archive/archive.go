// Package archive copies rendered digests to S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// S3 uploads digest Markdown to a bucket, one object per run.
type S3 struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3 creates an uploader using the default AWS credential chain.
func NewS3(bucket, region, prefix string) (*S3, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("creating AWS session: %w", err)
	}
	return NewS3WithClient(s3.New(sess), bucket, prefix), nil
}

// NewS3WithClient creates an uploader around an existing S3 client.
func NewS3WithClient(client s3iface.S3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// Key returns the object key for a digest: <prefix>/<YYYY>/<date>-<runID>.md.
func (a *S3) Key(date, runID string) string {
	year := date
	if len(date) >= 4 {
		year = date[:4]
	}
	return path.Join(a.prefix, year, date+"-"+runID+".md")
}

// Upload stores body under the digest's key and returns the key.
func (a *S3) Upload(ctx context.Context, date, runID, body string) (string, error) {
	key := a.Key(date, runID)
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("text/markdown; charset=utf-8"),
		Metadata: map[string]*string{
			"run-id": aws.String(runID),
			"date":   aws.String(date),
		},
	})
	if err != nil {
		return "", fmt.Errorf("uploading s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
