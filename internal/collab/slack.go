package collab

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// slackMessages maps orchestrator event kinds to the text posted to Slack.
var slackMessages = map[string]string{
	"dispatched":     "Task %s dispatched: GitHub issue created and agent assigned.",
	"failed":         "Task %s failed. See the task's error message for details.",
	"coding_started": "Task %s: agent started coding.",
	"pr_opened":      "Task %s: pull request opened.",
	"pr_merged":      "Task %s merged.",
	"pr_closed":      "Task %s: pull request closed without merge.",
}

// SlackNotifier posts task lifecycle notifications to a Slack incoming
// webhook. Delivery is best-effort: failures are logged here and never reach
// the orchestrator, so a Slack outage cannot block a state change.
type SlackNotifier struct {
	WebhookURL string
	Client     *http.Client
	Log        *slog.Logger
}

// Notify posts one notification. Fire-and-forget per the Notifier contract.
func (n *SlackNotifier) Notify(ctx context.Context, taskID, eventKind string) {
	if n.WebhookURL == "" {
		return
	}

	format, ok := slackMessages[eventKind]
	if !ok {
		format = "Task %s: " + eventKind
	}

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	payload := map[string]string{"text": fmt.Sprintf(format, taskID)}
	if err := postJSON(ctx, client, n.WebhookURL, payload, nil); err != nil {
		n.Log.Warn("slack notification failed",
			"task_id", taskID, "event", eventKind, "error", err)
	}
}
