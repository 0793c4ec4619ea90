package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vodgrab/internal/discovery"
	"vodgrab/internal/httputil"
	"vodgrab/internal/media"
)

var probeCmd = &cobra.Command{
	Use:   "probe <play-url>",
	Short: "Resolve the stream of one play page and print it as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := httputil.ValidateURL(args[0]); err != nil {
			return err
		}

		b, err := openBrowser(cmd.Context())
		if err != nil {
			return err
		}
		d, discErr := b.disc.Discover(cmd.Context(), args[0])
		closeErr := b.Close()
		if discErr != nil && !errors.Is(discErr, discovery.ErrNoStreamFound) {
			return discErr
		}

		out := probeOutput{
			PlayURL:   args[0],
			Title:     d.Page.Title,
			StreamURL: d.Candidate.URL,
			Source:    d.Candidate.Source,
		}
		if d.Network != nil {
			out.Network = d.Network.URL
		}
		if d.Embedded != nil {
			out.Embedded = d.Embedded.URL
		}
		if d.Payload != nil {
			out.Payload = d.Payload.Fields
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON: %w", err)
		}
		return closeErr
	},
}

type probeOutput struct {
	PlayURL   string         `json:"play_url"`
	Title     string         `json:"title"`
	StreamURL string         `json:"stream_url"`
	Source    media.Source   `json:"source"`
	Network   string         `json:"network,omitempty"`
	Embedded  string         `json:"embedded,omitempty"`
	Payload   map[string]any `json:"player_payload,omitempty"`
}
