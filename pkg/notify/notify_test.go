package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type stubSender struct {
	chatID string
	text   string
	err    error
}

func (s *stubSender) SendText(ctx context.Context, chatID, text string) (string, error) {
	s.chatID, s.text = chatID, text
	return "om_1", s.err
}

func TestFeishuNotifierSendsEventText(t *testing.T) {
	sender := &stubSender{}
	n := &FeishuNotifier{sender: sender, chatID: "oc_1"}
	err := n.Notify(context.Background(), Event{
		RunID:         "run-1",
		Channel:       "huawei",
		ApplicationID: "com.example.app",
		VersionName:   "1.0.0",
		FileName:      "com.example.app_1.0.0_hw.apk",
		Err:           errors.New("submit failed"),
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if sender.chatID != "oc_1" || !strings.Contains(sender.text, "huawei ✗ com.example.app 1.0.0") || !strings.Contains(sender.text, "submit failed") {
		t.Fatalf("unexpected message %q to %q", sender.text, sender.chatID)
	}
}

func TestFeishuNotifierWrapsSendError(t *testing.T) {
	n := &FeishuNotifier{sender: &stubSender{err: errors.New("denied")}, chatID: "oc_1"}
	if err := n.Notify(context.Background(), Event{Channel: "mock"}); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestFromEnvWithoutChatIsNop(t *testing.T) {
	t.Setenv(envNotifyChatID, "")
	if _, ok := FromEnv().(Nop); !ok {
		t.Fatalf("expected Nop notifier")
	}
}

func TestSuccessText(t *testing.T) {
	text := Event{RunID: "r", Channel: "mock", ApplicationID: "a", VersionName: "1", FileName: "f.apk"}.Text()
	if text != "[apkdispatcher] mock ✓ a 1 (f.apk) run=r" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestFailuresOnlySkipsSuccess(t *testing.T) {
	sender := &stubSender{}
	n := (&FeishuNotifier{sender: sender, chatID: "oc_1"}).FailuresOnly(true)
	if err := n.Notify(context.Background(), Event{Channel: "mock"}); err != nil || sender.text != "" {
		t.Fatalf("success should be muted, got %q err=%v", sender.text, err)
	}
	if err := n.Notify(context.Background(), Event{Channel: "mock", Err: errors.New("boom")}); err != nil || !strings.Contains(sender.text, "boom") {
		t.Fatalf("failure should be sent, got %q err=%v", sender.text, err)
	}
}
