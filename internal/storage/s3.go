package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/rs/zerolog"
)

// S3 stores objects in an AWS S3 bucket.
type S3 struct {
	svc    s3iface.S3API
	bucket string
	region string
	log    zerolog.Logger
}

func NewS3(svc s3iface.S3API, bucket, region string, log zerolog.Logger) *S3 {
	return &S3{
		svc:    svc,
		bucket: bucket,
		region: region,
		log:    log.With().Str("component", "storage").Str("backend", string(KindS3)).Logger(),
	}
}

func (s *S3) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		s.log.Error().Err(err).Str("bucket", s.bucket).Str("key", key).Msg("failed to upload object")
		return Object{}, classifyAWS(err)
	}
	return Object{Key: key, URL: s.URL(key)}, nil
}

func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, classifyAWS(err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classifyAWS(err)
	}
	return nil
}

func (s *S3) URL(key string) string {
	if s.region == "" || s.region == "us-east-1" {
		return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func classifyAWS(err error) error {
	var rf awserr.RequestFailure
	if errors.As(err, &rf) {
		if rf.StatusCode() == http.StatusNotFound {
			return fmt.Errorf("%s: %w", rf.Code(), ErrNotFound)
		}
		e := apperr.FromHTTPStatus("s3", rf.StatusCode(), []byte(rf.Message()), nil)
		e.Cause = err
		return e
	}
	return apperr.FromTransport("s3", err)
}
