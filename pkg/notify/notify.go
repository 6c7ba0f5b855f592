package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/ApkDispatcher/internal/env"
	"github.com/httprunner/ApkDispatcher/internal/feishusdk"
)

const (
	envNotifyChatID       = "FEISHU_NOTIFY_CHAT_ID"
	envNotifyFailuresOnly = "FEISHU_NOTIFY_FAILURES_ONLY"
)

// Event summarises one channel outcome.
type Event struct {
	RunID         string
	Channel       string
	ApplicationID string
	VersionName   string
	FileName      string
	Err           error
}

// Text renders the event as a single chat line.
func (e Event) Text() string {
	version := strings.TrimSpace(e.ApplicationID + " " + e.VersionName)
	if e.Err != nil {
		return fmt.Sprintf("[apkdispatcher] %s ✗ %s (%s) run=%s: %v", e.Channel, version, e.FileName, e.RunID, e.Err)
	}
	return fmt.Sprintf("[apkdispatcher] %s ✓ %s (%s) run=%s", e.Channel, version, e.FileName, e.RunID)
}

// Notifier publishes channel outcomes.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

type textSender interface {
	SendText(ctx context.Context, chatID, text string) (string, error)
}

// FeishuNotifier posts outcomes to a Feishu group chat.
type FeishuNotifier struct {
	sender       textSender
	chatID       string
	failuresOnly bool
}

// NewFeishuNotifier sends through client to chatID.
func NewFeishuNotifier(client *feishusdk.Client, chatID string) *FeishuNotifier {
	return &FeishuNotifier{sender: client, chatID: strings.TrimSpace(chatID)}
}

// FailuresOnly drops successful outcomes.
func (n *FeishuNotifier) FailuresOnly(on bool) *FeishuNotifier {
	n.failuresOnly = on
	return n
}

func (n *FeishuNotifier) Notify(ctx context.Context, event Event) error {
	if n.failuresOnly && event.Err == nil {
		return nil
	}
	messageID, err := n.sender.SendText(ctx, n.chatID, event.Text())
	if err != nil {
		return errors.Wrap(err, "notify: send feishu message")
	}
	log.Debug().Str("message_id", messageID).Str("channel", event.Channel).Msg("notify: feishu message sent")
	return nil
}

// FromEnv returns a FeishuNotifier when FEISHU_NOTIFY_CHAT_ID is set and the
// app credentials are available, Nop otherwise. FEISHU_NOTIFY_FAILURES_ONLY
// mutes successful channels.
func FromEnv() Notifier {
	chatID := env.String(envNotifyChatID, "")
	if chatID == "" {
		return Nop{}
	}
	client, err := feishusdk.NewClientFromEnv()
	if err != nil {
		log.Warn().Err(err).Msg("notify: FEISHU_NOTIFY_CHAT_ID set but feishu client unavailable, notifications disabled")
		return Nop{}
	}
	return NewFeishuNotifier(client, chatID).FailuresOnly(env.Bool(envNotifyFailuresOnly, false))
}
