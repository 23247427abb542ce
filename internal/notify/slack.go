package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/johndauphine/sqlite-server-migrate/internal/config"
)

const appName = "sqlite-server-migrate"

// Notifier sends notifications to a Slack incoming webhook
type Notifier struct {
	config     *config.SlackConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

const (
	colorGreen  = "#36a64f"
	colorRed    = "#dc3545"
	colorYellow = "#ffc107"
)

// New creates a new Slack notifier
func New(cfg *config.SlackConfig) *Notifier {
	if cfg == nil {
		cfg = &config.SlackConfig{Enabled: false}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if notifications are enabled
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

// MigrationStarted sends notification when migration starts
func (n *Notifier) MigrationStarted(runID, source, target string, tableCount int) error {
	return n.post(":rocket:", "", SlackAttachment{
		Color: colorGreen,
		Title: "Migration Started",
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
			{Title: "Source", Value: source, Short: true},
			{Title: "Target", Value: target, Short: true},
		},
	})
}

// MigrationCompleted sends notification when migration completes successfully
func (n *Notifier) MigrationCompleted(runID string, startTime time.Time, duration time.Duration, tableCount int, rowCount int64, throughput float64) error {
	header := fmt.Sprintf("Migration completed and cut over. Migrated %d tables with %s total rows. Throughput: %s rows/sec.",
		tableCount, formatNumberWithCommas(rowCount), formatNumberWithCommas(int64(throughput)))

	return n.post(":white_check_mark:", header, SlackAttachment{
		Color: colorGreen,
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Started", Value: startTime.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
			{Title: "Duration", Value: formatDuration(duration), Short: true},
			{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
			{Title: "Total Rows", Value: formatNumberWithCommas(rowCount), Short: true},
			{Title: "Throughput", Value: fmt.Sprintf("%s rows/sec", formatNumberWithCommas(int64(throughput))), Short: true},
		},
	})
}

// MigrationFailed sends notification when a stage fails without a rollback
func (n *Notifier) MigrationFailed(runID, stage string, err error, duration time.Duration) error {
	return n.post(":x:", "", SlackAttachment{
		Color: colorRed,
		Title: "Migration Failed",
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Stage", Value: stage, Short: true},
			{Title: "Duration", Value: formatDuration(duration), Short: true},
			{Title: "Error", Value: errorText(err), Short: false},
		},
	})
}

// MigrationRolledBack sends notification after the target was restored
// from rollback points
func (n *Notifier) MigrationRolledBack(runID, reason string, restored []string, duration time.Duration) error {
	tables := "none"
	if len(restored) > 0 {
		tables = summarizeTables(restored)
	}
	return n.post(":rewind:", "", SlackAttachment{
		Color: colorYellow,
		Title: "Migration Rolled Back",
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Duration", Value: formatDuration(duration), Short: true},
			{Title: "Reason", Value: reason, Short: false},
			{Title: "Restored Tables", Value: tables, Short: false},
		},
	})
}

// TableTransferFailed sends notification for individual table failures
func (n *Notifier) TableTransferFailed(runID, tableName string, err error) error {
	return n.post(":warning:", "", SlackAttachment{
		Color: colorYellow,
		Title: "Table Transfer Failed",
		Fields: []SlackField{
			{Title: "Run ID", Value: runID, Short: true},
			{Title: "Table", Value: tableName, Short: true},
			{Title: "Error", Value: errorText(err), Short: false},
		},
	})
}

func (n *Notifier) post(icon, text string, att SlackAttachment) error {
	if !n.IsEnabled() {
		return nil
	}
	att.Footer = appName
	att.Timestamp = time.Now().Unix()
	return n.send(SlackMessage{
		Channel:     n.config.Channel,
		Username:    n.getUsername(),
		IconEmoji:   icon,
		Text:        text,
		Attachments: []SlackAttachment{att},
	})
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}
	return nil
}

func (n *Notifier) getUsername() string {
	if n.config.Username != "" {
		return n.config.Username
	}
	return appName
}

func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return msg
}

func summarizeTables(tables []string) string {
	if len(tables) <= 5 {
		return strings.Join(tables, ", ")
	}
	return fmt.Sprintf("%s... and %d more", strings.Join(tables[:3], ", "), len(tables)-3)
}

func formatNumberWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(str, "-")
	if neg {
		str = str[1:]
	}
	if len(str) <= 3 {
		if neg {
			return "-" + str
		}
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if neg {
		return "-" + string(result)
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
