package notification

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/intakehq/intake/config"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestSlackNotificationPostsToWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	called := false
	httpmock.RegisterResponder(http.MethodPost, "https://hooks.slack.test/services/T000/B000",
		func(req *http.Request) (*http.Response, error) {
			called = true
			return httpmock.NewJsonResponse(200, map[string]string{"ok": "true"})
		})

	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
		Notification: config.Notification{
			Slack: config.SlackWebhook{WebhookUrl: "https://hooks.slack.test/services/T000/B000"},
		},
	})

	SlackNotification(errors.New("extraction service unreachable"))
	assert.True(t, called)
}

func TestNotifyErrorWithoutSlackConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      config.RedisConfig{Dns: "localhost:6379"},
	})

	// Nothing to assert beyond it not panicking; the goroutine exits once it
	// sees no webhook configured.
	NotifyError(errors.New("some failure"))
	time.Sleep(20 * time.Millisecond)
}
