package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	dispatcher "github.com/httprunner/ApkDispatcher"
)

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"Channel", "Status", "Error"}, [][]string{{"huawei", "ok"}}, nil)
	for _, want := range []string{"CHANNEL", "STATUS", "ERROR", "huawei", "ok"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<nil>") {
		t.Fatalf("short row rendered nil cells:\n%s", out)
	}
	if renderTable(nil, nil, nil) != "" {
		t.Fatalf("expected empty table without headers")
	}
}

func TestRenderResultsShowsFailures(t *testing.T) {
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	out := renderResults([]dispatcher.Result{
		{Channel: "hw-prod", Kind: "huawei", Progress: 100, StartedAt: start, FinishedAt: start.Add(1500 * time.Millisecond)},
		{Channel: "mock", Kind: "mock", Progress: 42, Err: errors.New("boom"), StartedAt: start, FinishedAt: start},
	})
	for _, want := range []string{"hw-prod", "1.5s", "100%", "failed", "boom", "42%"} {
		if !strings.Contains(out, want) {
			t.Fatalf("results missing %q:\n%s", want, out)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("unexpected short id %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("unexpected short id %q", got)
	}
}
