package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/httprunner/ApkDispatcher/internal/env"
)

var rootCmd = &cobra.Command{
	Use:          "apkdispatcher",
	Short:        "Publish one APK to several distribution channels",
	Long:         `apkdispatcher 读取 APK 元数据，按顺序上传到配置的分发渠道（华为 AppGallery、飞书云盘、测试设备等），记录每个渠道的结果并可推送飞书通知。`,
	SilenceUsage: true,
}

var (
	rootConfigPath string
	rootVerbose    bool
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "channel config TOML, overrides APK_DISPATCHER_CONFIG")
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if rootVerbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
	}
	rootCmd.AddCommand(
		newUploadCmd(),
		newChannelsCmd(),
		newHistoryCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("apkdispatcher command failed")
	}
}
