package main

import (
	"fmt"
	"os"
	"time"

	"vidswarm/internal/infrastructure/protocol"
	"vidswarm/pkg/config"
	"vidswarm/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	configPath string
	logLevel   string
	timeout    time.Duration
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vidswarm-peer",
	Short: "A vidswarm peer: share video files with other peers",
	Long: `vidswarm-peer runs a peer of the vidswarm network.

A peer registers with a tracker, serves the videos it publishes to other
peers over TCP and downloads videos that other peers publish.

  serve   run a peer node with its HTTP control API
  fetch   download one video straight from a peer address
  ls      list the videos a peer publishes
  info    show one video a peer publishes`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/peer.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "override peer.request_timeout")

	rootCmd.AddCommand(serveCmd, fetchCmd, lsCmd, infoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if timeout > 0 {
		cfg.Peer.RequestTimeout = timeout
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *zap.Logger {
	return logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
}

func clientConfig(cfg *config.Config) protocol.ClientConfig {
	return protocol.ClientConfig{
		DialTimeout:  cfg.Peer.DialTimeout,
		ReadTimeout:  cfg.Transfer.ReadTimeout,
		WriteTimeout: cfg.Transfer.WriteTimeout,
	}
}
