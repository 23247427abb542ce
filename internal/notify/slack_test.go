package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
)

func TestDisabledNotifierSendsNothing(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Enabled: false})
	assert.False(t, n.IsEnabled())
	require.NoError(t, n.MigrationStarted("abc", "shop.db", "mysql:db", 2))
	assert.False(t, called)

	assert.False(t, New(nil).IsEnabled())
}

func TestRolledBackMessage(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Channel: "#ops", Enabled: true})
	err := n.MigrationRolledBack("abc", "error count 5 reached limit 5", []string{"users", "orders"}, 90*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "#ops", got.Channel)
	assert.Equal(t, appName, got.Username)
	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "Migration Rolled Back", att.Title)
	assert.Equal(t, appName, att.Footer)
	assert.Contains(t, att.Fields, SlackField{Title: "Restored Tables", Value: "users, orders"})
	assert.Contains(t, att.Fields, SlackField{Title: "Duration", Value: "1m 30s", Short: true})
}

func TestSendReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := New(&config.SlackConfig{WebhookURL: srv.URL, Enabled: true})
	err := n.MigrationFailed("abc", "validation", errors.New("boom"), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", formatNumberWithCommas(999))
	assert.Equal(t, "1,234,567", formatNumberWithCommas(1234567))
	assert.Equal(t, "-1,000", formatNumberWithCommas(-1000))
	assert.Equal(t, "2h 0m 5s", formatDuration(2*time.Hour+5*time.Second))
	assert.Equal(t, "a, b, c... and 3 more", summarizeTables([]string{"a", "b", "c", "d", "e", "f"}))
}
