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

package intake

import (
	"embed"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/intakehq/intake/config"
	"github.com/intakehq/intake/database"
	redis_db "github.com/intakehq/intake/internal/redis-db"
	"github.com/intakehq/intake/internal/storage"
)

var tracer = otel.Tracer("intake.core")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Intake is the main struct for the referral intake core. The queue client,
// extractor and blob store are constructed dependencies rather than package
// globals so the worker loop and retry scheduler stay independently testable.
type Intake struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	extractor  Extractor
	blobs      storage.ObjectStore
}

// NewIntake initializes a new instance of Intake with the provided database
// datasource. It fetches the configuration and initializes the Redis client,
// the queue client, the extraction client and the optional S3 blob store.
func NewIntake(db database.IDataSource) (*Intake, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{configuration.Redis.Dns}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	newQueue := NewQueueWithClient(redisClient.Client(), configuration)
	extractor := NewHTTPExtractor(configuration)

	var blobs storage.ObjectStore
	if configuration.Storage.S3BucketName != "" {
		s3Store, err := storage.NewS3Store()
		if err != nil {
			// Attachment upload is best-effort; the pipeline runs without it.
			logrus.Warnf("blob store disabled: %v", err)
		} else {
			blobs = s3Store
		}
	}

	return &Intake{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		extractor:  extractor,
		blobs:      blobs,
	}, nil
}

// Queue exposes the queue client for the worker and scheduler commands.
func (i *Intake) Queue() *Queue {
	return i.queue
}

// SetExtractor swaps the extraction backend. Used by tests and by callers
// embedding the core with their own inference client.
func (i *Intake) SetExtractor(e Extractor) {
	i.extractor = e
}
