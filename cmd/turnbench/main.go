// Command turnbench replays greet and turn requests against a running
// novavoice server and reports per-stage latency percentiles.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	baseURL   string
	voice     string
	profile   string
	sessions  int
	turns     int
	clipPath  string
	toneMS    int
	transport string
	timeout   time.Duration
	verbose   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "turnbench: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "turnbench",
		Short:         "Replay voice turns and report latency",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("base-url", "http://127.0.0.1:3000", "novavoice base URL")
	root.AddCommand(newReplayCmd(), newLatencyCmd())
	return root
}

func newReplayCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Greet then run turns for concurrent sessions",
		Long: `Opens --sessions concurrent sessions. Each one greets once and then sends
--turns recorded clips, over HTTP multipart or the WebSocket transport.

The clip is read from --clip when given; otherwise a synthetic WAV tone is used,
which the mock providers accept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, err := cmd.Flags().GetString("base-url")
			if err != nil {
				return err
			}
			opts.baseURL = baseURL
			if err := opts.validate(); err != nil {
				return err
			}
			report, err := runReplay(cmd.Context(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			report.Print(cmd.OutOrStdout())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.voice, "voice", "alloy", "voice id sent with every request")
	f.StringVar(&opts.profile, "profile", `{"preferredName":"Bench"}`, "profile text sent with every request")
	f.IntVar(&opts.sessions, "sessions", 1, "number of concurrent sessions")
	f.IntVar(&opts.turns, "turns", 5, "turns per session after the greeting")
	f.StringVar(&opts.clipPath, "clip", "", "audio file to upload for each turn")
	f.IntVar(&opts.toneMS, "tone-ms", 800, "length of the synthetic clip when --clip is empty")
	f.StringVar(&opts.transport, "transport", "http", "http or ws")
	f.DurationVar(&opts.timeout, "timeout", 45*time.Second, "timeout per request")
	f.BoolVar(&opts.verbose, "verbose", false, "print every request")
	return cmd
}

func newLatencyCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Print the server's rolling per-stage latency window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, err := cmd.Flags().GetString("base-url")
			if err != nil {
				return err
			}
			return printServerLatency(cmd.Context(), baseURL, reset, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the window after reading it")
	return cmd
}
