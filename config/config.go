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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	// Queue lane names. High receives items ahead of default, low behind it;
	// all three share the same state machine.
	QueueHigh    = "high"
	QueueDefault = "default"
	QueueLow     = "low"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"INTAKE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"INTAKE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"INTAKE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"INTAKE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"INTAKE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"INTAKE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"INTAKE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"INTAKE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"INTAKE_REDIS_SKIP_TLS_VERIFY"`
}

// ExtractionConfig points at the external inference service that turns a
// document into a structured case extraction.
type ExtractionConfig struct {
	Url     string `json:"url" envconfig:"INTAKE_EXTRACTION_URL"`
	ApiKey  string `json:"api_key" envconfig:"INTAKE_EXTRACTION_API_KEY"`
	Timeout int    `json:"timeout" envconfig:"INTAKE_EXTRACTION_TIMEOUT"` // seconds

	// Failure simulation for exercising the retry path in development.
	SimulateFailures bool    `json:"simulate_failures" envconfig:"INTAKE_EXTRACTION_SIMULATE_FAILURES"`
	FailureRate      float64 `json:"failure_rate" envconfig:"INTAKE_EXTRACTION_FAILURE_RATE"`
}

// TimeoutDuration returns the extraction call timeout.
func (e ExtractionConfig) TimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// QueueConfig carries the retry policy and the reconciliation parameters of
// the queue store.
type QueueConfig struct {
	Queues              []string `json:"queues" envconfig:"INTAKE_QUEUE_NAMES"`
	MaxRetryAttempts    int      `json:"max_retry_attempts" envconfig:"INTAKE_QUEUE_MAX_RETRY_ATTEMPTS"`
	RetryDelaysSec      []int    `json:"retry_delays_sec" envconfig:"INTAKE_QUEUE_RETRY_DELAYS_SEC"`
	SchedulerIntervalMs int      `json:"scheduler_interval_ms" envconfig:"INTAKE_QUEUE_SCHEDULER_INTERVAL_MS"`
	JobTimeoutSec       int      `json:"job_timeout_sec" envconfig:"INTAKE_QUEUE_JOB_TIMEOUT_SEC"`
	RetentionSec        int      `json:"retention_sec" envconfig:"INTAKE_QUEUE_RETENTION_SEC"`
	StuckThresholdSec   int      `json:"stuck_threshold_sec" envconfig:"INTAKE_QUEUE_STUCK_THRESHOLD_SEC"`
	WebhookQueue        string   `json:"webhook_queue" envconfig:"INTAKE_QUEUE_WEBHOOK_QUEUE"`
}

// RetryDelays converts the configured delay seconds into durations.
func (q QueueConfig) RetryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(q.RetryDelaysSec))
	for _, s := range q.RetryDelaysSec {
		delays = append(delays, time.Duration(s)*time.Second)
	}
	return delays
}

// SchedulerInterval returns the reconciliation poll interval.
func (q QueueConfig) SchedulerInterval() time.Duration {
	return time.Duration(q.SchedulerIntervalMs) * time.Millisecond
}

// JobTimeout returns how long a synchronous submission waits for the queued
// result before falling back.
func (q QueueConfig) JobTimeout() time.Duration {
	return time.Duration(q.JobTimeoutSec) * time.Second
}

// Retention returns how long terminal work items stay queryable before the
// queue store expires them.
func (q QueueConfig) Retention() time.Duration {
	return time.Duration(q.RetentionSec) * time.Second
}

// StuckThreshold returns how long an item may sit in progress before the
// scheduler assumes its worker died and recovers it.
func (q QueueConfig) StuckThreshold() time.Duration {
	return time.Duration(q.StuckThresholdSec) * time.Second
}

// StorageConfig configures the S3-compatible blob store attachment binaries
// are uploaded to. Upload is best-effort; leave the bucket empty to disable.
type StorageConfig struct {
	S3Endpoint         string `json:"s3_endpoint" envconfig:"INTAKE_S3_ENDPOINT"`
	S3BucketName       string `json:"s3_bucket_name" envconfig:"INTAKE_S3_BUCKET_NAME"`
	S3Region           string `json:"s3_region" envconfig:"INTAKE_S3_REGION"`
	AwsAccessKeyId     string `json:"aws_access_key_id" envconfig:"INTAKE_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"INTAKE_AWS_SECRET_ACCESS_KEY"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"INTAKE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"INTAKE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"INTAKE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"INTAKE_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"INTAKE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Extraction      ExtractionConfig `json:"extraction"`
	Queue           QueueConfig      `json:"queue"`
	Storage         StorageConfig    `json:"storage"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("intake", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called intake.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Intake Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Extraction.Url = strings.TrimSpace(cnf.Extraction.Url)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if len(cnf.Queue.Queues) == 0 {
		cnf.Queue.Queues = []string{QueueHigh, QueueDefault, QueueLow}
	}
	if cnf.Queue.MaxRetryAttempts == 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if len(cnf.Queue.RetryDelaysSec) == 0 {
		cnf.Queue.RetryDelaysSec = []int{1, 2, 4, 8, 16}
	}
	if cnf.Queue.SchedulerIntervalMs == 0 {
		cnf.Queue.SchedulerIntervalMs = 1000
	}
	if cnf.Queue.JobTimeoutSec == 0 {
		cnf.Queue.JobTimeoutSec = 600
	}
	if cnf.Queue.RetentionSec == 0 {
		cnf.Queue.RetentionSec = 7 * 24 * 3600
	}
	if cnf.Queue.StuckThresholdSec == 0 {
		cnf.Queue.StuckThresholdSec = 600
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhook"
	}

	if cnf.Extraction.Timeout == 0 {
		cnf.Extraction.Timeout = 120
	}
	if cnf.Extraction.SimulateFailures && cnf.Extraction.FailureRate == 0 {
		cnf.Extraction.FailureRate = 0.7
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}

	// Set default cleanup interval if not specified
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if err := mockConfig.validateAndAddDefaults(); err != nil {
		log.Printf("mock config validation: %v", err)
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
