package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vodgrab/internal/config"
	"vodgrab/internal/media"
	"vodgrab/internal/remux"
	"vodgrab/internal/repair"
	"vodgrab/internal/ui"
)

var repairCmd = &cobra.Command{
	Use:   "repair [dir]",
	Short: "Rewrite downloaded files to fix audio/video drift",
	Long: `Repair walks dir (default: repair.dir from the config) and remuxes every
video file into a "_fixed" copy next to it. Originals are never changed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.Repair.Dir
		if len(args) == 1 {
			dir = args[0]
		}
		return runRepair(cmd.Context(), dir)
	},
}

func runRepair(ctx context.Context, dir string) error {
	root, err := config.ExpandPath(dir)
	if err != nil {
		return err
	}
	files, err := repair.Scan(root)
	if err != nil {
		return err
	}

	tool := remux.NewFFmpeg(cfg.Download.FFmpeg, logger)
	r := repair.New(tool, cfg.Repair.Workers, logger)
	progress := ui.NewProgress(os.Stderr, len(files), "repairing")
	r.OnResult = func(media.RepairResult) { progress.Add(1) }

	sum, err := r.RepairTree(ctx, root)
	progress.Finish()
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, ui.RepairTable(sum))
	logger.Info("repair finished",
		zap.String("root", root),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d files failed to repair", sum.Failed, sum.Total())
	}
	return nil
}
