package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	dispatcher "github.com/httprunner/ApkDispatcher"
	"github.com/httprunner/ApkDispatcher/internal/config"
	"github.com/httprunner/ApkDispatcher/pkg/notify"
	"github.com/httprunner/ApkDispatcher/pkg/storage"
)

func newUploadCmd() *cobra.Command {
	var (
		flagFile     string
		flagDesc     string
		flagChannels []string
		flagNoRecord bool
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload an APK to the given channels",
		Example: `  apkdispatcher upload --file app-release.apk --desc "修复已知问题" --channel huawei --channel mock
  apkdispatcher upload --file app.apk --channel hw-prod --config dispatcher.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			file := strings.TrimSpace(flagFile)
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			if len(flagChannels) == 0 {
				return fmt.Errorf("at least one --channel is required")
			}
			cfg, err := config.Load(rootConfigPath)
			if err != nil {
				return err
			}

			var records dispatcher.RecordWriter
			if !flagNoRecord {
				storageCfg, err := storage.ConfigFromEnv()
				if err != nil {
					return err
				}
				manager, err := storage.NewManager(storageCfg)
				if err != nil {
					return err
				}
				defer manager.Close()
				records = manager
				log.Debug().Str("sinks", manager.Name()).Msg("upload records enabled")
			}

			bars := newProgressBars(os.Stderr)
			d := dispatcher.New(dispatcher.Options{
				Channels: cfg,
				Records:  records,
				Notifier: notify.FromEnv(),
				Progress: bars.sink,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			results, runErr := d.Run(ctx, dispatcher.Request{
				ArtifactPath: file,
				UpdateDesc:   flagDesc,
				Channels:     flagChannels,
			})
			bars.finish()
			if len(results) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&flagFile, "file", "f", "", "APK file to publish")
	cmd.Flags().StringVarP(&flagDesc, "desc", "d", "", "version update description")
	cmd.Flags().StringArrayVarP(&flagChannels, "channel", "c", nil, "channel name, repeatable; runs in the given order")
	cmd.Flags().BoolVar(&flagNoRecord, "no-record", false, "skip writing upload records")
	return cmd
}

func renderResults(results []dispatcher.Result) string {
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		status := "ok"
		detail := ""
		if res.Err != nil {
			status = "failed"
			detail = res.Err.Error()
		}
		rows = append(rows, []string{
			res.Channel,
			res.Kind,
			status,
			fmt.Sprintf("%d%%", res.Progress),
			res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String(),
			res.FileName,
			detail,
		})
	}
	return renderTable(
		[]string{"Channel", "Kind", "Status", "Progress", "Elapsed", "File", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}
