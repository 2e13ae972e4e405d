package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/allaspectsdev/modelmux/internal/engine"
	"github.com/allaspectsdev/modelmux/internal/vault"
)

func askCmd() *cobra.Command {
	var contextFile string
	var jsonOut bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Answer a query in-process, without the daemon",
		Long: `Builds the engine from the current config and answers one query.
Backends start healthy; no probes run. Use --context to attach a JSON
(or plain text) file as supporting context.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			qctx, err := readContext(contextFile)
			if err != nil {
				return err
			}

			level := zerolog.WarnLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
				Level(level).With().Timestamp().Logger()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			eng, err := engine.FromConfig(ctx, cfg, vault.New(), logger)
			if err != nil {
				return fmt.Errorf("building engine: %w", err)
			}

			resp, err := eng.AcceptQuery(ctx, args[0], qctx)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
			md := resp.Metadata
			if md.Degraded {
				fmt.Fprintf(os.Stderr, "\n[degraded: %s after %d attempt(s)]\n", md.Reason, md.Attempts)
			} else {
				fmt.Fprintf(os.Stderr, "\n[%s, %d attempt(s), %dms, %s/%s]\n",
					md.Backend, md.Attempts, md.LatencyMs, md.Analysis.Complexity, md.Analysis.QueryType)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&contextFile, "context", "", "file holding supporting context (JSON or text); - reads stdin")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full response with routing metadata as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log routing decisions to stderr")
	return cmd
}

// readContext loads a context file. JSON documents are decoded so the
// analyzer sees structured data; anything else is passed as a string.
func readContext(path string) (any, error) {
	if path == "" {
		return nil, nil
	}

	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading context: %w", err)
	}

	var v any
	if json.Unmarshal(data, &v) == nil {
		return v, nil
	}
	return string(data), nil
}

func backendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List configured backends and their routing attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tMODEL\tSPEED\tCOST\tSTRENGTHS\tTIMEOUT\tENABLED")
			for _, b := range cfg.Backends {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%v\n",
					b.ID, b.Kind, b.Model, b.SpeedTier, b.CostTier,
					strings.Join(b.StrengthTags, ","), cfg.DispatchTimeout(b), b.Enabled)
			}
			return w.Flush()
		},
	}
}
