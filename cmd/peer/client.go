package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/infrastructure/protocol"
	"vidswarm/pkg/validation"

	"github.com/spf13/cobra"
)

var fetchOutput string

// fetchCmd downloads one video straight from a peer, without a tracker.
var fetchCmd = &cobra.Command{
	Use:   "fetch [host:port] [video-id]",
	Short: "Download a video directly from a peer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, videoID := args[0], domain.VideoID(args[1])
		if err := validation.ValidateVideoID(string(videoID)); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		target := fetchOutput
		if target == "" {
			target = string(videoID)
		}
		if info, err := os.Stat(target); err == nil && info.IsDir() {
			target = filepath.Join(target, string(videoID))
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Peer.RequestTimeout+cfg.Transfer.ReadTimeout)
		defer cancel()

		tmp, err := os.CreateTemp(filepath.Dir(target), ".vidswarm-*.part")
		if err != nil {
			return fmt.Errorf("create temporary file: %w", err)
		}
		defer os.Remove(tmp.Name())

		start := time.Now()
		n, err := protocol.NewPeerClient(clientConfig(cfg), cfg.Transfer.ChunkSize).FetchVideo(ctx, addr, videoID, tmp)
		if closeErr := tmp.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
		if err := os.Rename(tmp.Name(), target); err != nil {
			return fmt.Errorf("move download into place: %w", err)
		}

		fmt.Printf("Downloaded %s (%d bytes) to %s in %s\n", videoID, n, target, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

// infoCmd prints one video's metadata as the peer currently reports it.
var infoCmd = &cobra.Command{
	Use:   "info [host:port] [video-id]",
	Short: "Show a video a peer publishes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		videoID := domain.VideoID(args[1])
		if err := validation.ValidateVideoID(string(videoID)); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Peer.RequestTimeout)
		defer cancel()

		video, err := protocol.NewPeerClient(clientConfig(cfg), cfg.Transfer.ChunkSize).VideoInfo(ctx, args[0], videoID)
		if err != nil {
			return err
		}
		fmt.Printf("ID:    %s\nName:  %s\nSize:  %d bytes\nOwner: %s\n", video.ID, video.Name, video.SizeBytes, video.Owner)
		return nil
	},
}

// lsCmd prints the catalog a peer serves.
var lsCmd = &cobra.Command{
	Use:   "ls [host:port]",
	Short: "List the videos a peer publishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Peer.RequestTimeout)
		defer cancel()

		entries, err := protocol.ListPeerCatalog(ctx, args[0], clientConfig(cfg))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No published videos")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PEER\tVIDEO ID\tSIZE\tNAME")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", e.PeerID, e.Video.ID, e.Video.SizeBytes, e.Video.Name)
		}
		return w.Flush()
	},
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "destination file or directory")
}
