package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

func TestMockReportsCounterThenCompletion(t *testing.T) {
	task := NewTask("mock", "mk").WithTick(time.Microsecond)
	task.logger = zerolog.Nop()
	if err := task.Init(nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	var seen []int
	err := task.PerformUpload(context.Background(), &channel.Artifact{Name: "a.apk"}, "", func(p int) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("perform upload: %v", err)
	}
	if len(seen) != 101 {
		t.Fatalf("expected 101 reports, got %d", len(seen))
	}
	for i := 0; i < 100; i++ {
		if seen[i] != i {
			t.Fatalf("report %d: expected %d, got %d", i, i, seen[i])
		}
	}
	if seen[100] != 100 {
		t.Fatalf("expected final 100, got %d", seen[100])
	}
}

func TestMockStopsOnCancel(t *testing.T) {
	task := NewTask("mock", "mk").WithTick(time.Hour)
	task.logger = zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := task.PerformUpload(ctx, &channel.Artifact{Name: "a.apk"}, "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestMockParamDefine(t *testing.T) {
	task := NewTask("mock", "mk")
	params := task.ParamDefine()
	if len(params) != 2 || params[0].Name != "AppId" || params[1].Name != "AppKey" {
		t.Fatalf("unexpected params %v", params)
	}
	if task.ChannelName() != "mock" || task.FileNameIdentify() != "mk" {
		t.Fatalf("unexpected identity %s/%s", task.ChannelName(), task.FileNameIdentify())
	}
}

func TestMockInitKeepsAppID(t *testing.T) {
	appID := " 1234 "
	task := NewTask("mock", "mk")
	if err := task.Init(map[channel.Param]*string{ParamAppID: &appID}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if task.AppID() != "1234" {
		t.Fatalf("unexpected app id %q", task.AppID())
	}
}
