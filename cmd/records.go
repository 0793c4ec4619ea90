package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"vodgrab/internal/config"
	"vodgrab/internal/sink"
	"vodgrab/internal/ui"
)

var (
	flagRecordsRun   string
	flagRecordsLimit int
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List records stored in the SQLite sink",
	Args:  cobra.NoArgs,
	RunE:  recordsRun,
}

func init() {
	recordsCmd.Flags().StringVar(&flagRecordsRun, "run", "", "Only show records from this run ID")
	recordsCmd.Flags().IntVarP(&flagRecordsLimit, "limit", "n", 50, "Maximum records to show (0 = all)")
}

func recordsRun(cmd *cobra.Command, args []string) error {
	if cfg.Output.SQLitePath == "" {
		return fmt.Errorf("output.sqlite_path is not configured")
	}
	path, err := config.ExpandPath(cfg.Output.SQLitePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("record database: %w", err)
	}

	store, err := sink.OpenStore(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(cmd.Context(), sink.ListOptions{RunID: flagRecordsRun, Limit: flagRecordsLimit})
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No records found.")
		return nil
	}

	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Title,
			strconv.Itoa(r.Episode),
			string(r.Source),
			r.StreamURL,
		})
	}
	fmt.Println(ui.RenderTable(
		[]string{"When", "Title", "Ep", "Source", "Stream"},
		rows,
		[]ui.Align{ui.AlignLeft, ui.AlignLeft, ui.AlignRight, ui.AlignLeft, ui.AlignLeft},
	))
	return nil
}
