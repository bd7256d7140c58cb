/*
Copyright 2025 Intake Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/intakehq/intake/config"
)

// ObjectStore persists attachment binaries outside the relational database.
// Only a storage reference (bucket/key) is kept on the attachment row.
type ObjectStore interface {
	// Put uploads the given bytes and returns the storage reference for the
	// object.
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// S3Store implements ObjectStore against S3 or any S3-compatible endpoint
// (MinIO in local development).
type S3Store struct {
	client s3iface.S3API
	bucket string
}

// NewS3Store builds an S3Store from the configured storage settings. Returns
// an error when no bucket is configured; callers treat attachment storage as
// optional and skip uploads in that case.
func NewS3Store() (*S3Store, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if cfg.Storage.S3BucketName == "" {
		return nil, errors.New("storage: no S3 bucket configured")
	}

	awsCfg := aws.NewConfig().WithRegion(cfg.Storage.S3Region)
	if cfg.Storage.AwsAccessKeyId != "" {
		awsCfg = awsCfg.WithCredentials(credentials.NewStaticCredentials(
			cfg.Storage.AwsAccessKeyId, cfg.Storage.AwsSecretAccessKey, ""))
	}
	if cfg.Storage.S3Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Storage.S3Endpoint).WithS3ForcePathStyle(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "storage: failed to create AWS session")
	}

	return &S3Store{client: s3.New(sess), bucket: cfg.Storage.S3BucketName}, nil
}

// NewS3StoreWithClient is used by tests to inject a fake S3 client.
func NewS3StoreWithClient(client s3iface.S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Put uploads data under key, retrying transient failures with exponential
// backoff for up to 15 seconds. The returned reference is "s3://bucket/key".
func (s *S3Store) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second

	operation := func() error {
		_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", errors.Wrapf(err, "storage: failed to upload %s", key)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
