package main

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/httprunner/ApkDispatcher/pkg/channel"
)

// progressBars renders one bar per channel on a terminal and falls back to
// quarter milestones in the log otherwise.
type progressBars struct {
	out io.Writer
	tty bool

	mu      sync.Mutex
	current *progressbar.ProgressBar
}

func newProgressBars(out *os.File) *progressBars {
	fd := out.Fd()
	return &progressBars{out: out, tty: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)}
}

func (p *progressBars) sink(channelName string) channel.ProgressFunc {
	if !p.tty {
		lastMilestone := -1
		return func(percent int) {
			if milestone := percent / 25; milestone > lastMilestone {
				lastMilestone = milestone
				log.Info().Str("channel", channelName).Int("progress", percent).Msg("upload progress")
			}
		}
	}

	p.mu.Lock()
	p.finishLocked()
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetDescription(channelName),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(p.out, "\n") }),
	)
	p.current = bar
	p.mu.Unlock()

	return func(percent int) {
		_ = bar.Set(percent)
	}
}

func (p *progressBars) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *progressBars) finishLocked() {
	if p.current != nil && !p.current.IsFinished() {
		_ = p.current.Exit()
		_, _ = io.WriteString(p.out, "\n")
	}
	p.current = nil
}
