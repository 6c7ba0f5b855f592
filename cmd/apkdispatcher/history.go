package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/ApkDispatcher/pkg/storage"
)

func newHistoryCmd() *cobra.Command {
	var (
		flagLimit  int
		flagRemote bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent upload records",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := loadHistory(cmd, flagRemote, flagLimit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no upload records yet")
				return nil
			}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					humanize.Time(rec.StartedAt),
					shortID(rec.RunID),
					rec.Channel,
					rec.ApplicationID + " " + rec.VersionName,
					rec.Status,
					rec.Stage,
					rec.Duration().Round(time.Millisecond).String(),
					humanize.IBytes(uint64(rec.Size)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"When", "Run", "Channel", "App", "Status", "Stage", "Elapsed", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&flagRemote, "remote", false, "read the Feishu result table instead of local sqlite")
	return cmd
}

func loadHistory(cmd *cobra.Command, remote bool, limit int) ([]storage.Record, error) {
	cfg, err := storage.ConfigFromEnv()
	if remote {
		if err != nil {
			return nil, err
		}
		if cfg.Bitable == nil {
			return nil, errors.New("--remote needs FEISHU_RESULT_APP_TOKEN and FEISHU_RESULT_TABLE_ID")
		}
		return storage.RecentFromBitable(cmd.Context(), *cfg.Bitable, limit)
	}
	if err != nil {
		log.Debug().Err(err).Msg("ignore result table settings for local history")
	}

	// local history only reads sqlite
	cfg.Bitable = nil
	cfg.JSONLPath = ""
	if path, err := storage.ResolveDatabasePath(cfg.DBPath); err == nil {
		log.Debug().Str("db", path).Msg("reading upload records")
	}
	manager, err := storage.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	defer manager.Close()
	return manager.Recent(cmd.Context(), limit)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
