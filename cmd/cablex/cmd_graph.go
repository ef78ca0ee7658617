package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cablex/internal/morph"
	"github.com/nvandessel/cablex/internal/pipeline"
	"github.com/nvandessel/cablex/internal/visualization"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <cell-file>",
		Short: "Visualize the section tree of a cell",
		Long: `Output the section tree in DOT (Graphviz), JSON, or HTML format.

Examples:
  cablex graph cell.json | dot -Tsvg > cell.svg
  cablex graph expanded.json --highlight apic[0],apic[1],apic[2] --format html
  cablex graph cell.json --serve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			noOpen, _ := cmd.Flags().GetBool("no-open")
			serve, _ := cmd.Flags().GetBool("serve")
			highlight, _ := cmd.Flags().GetStringSlice("highlight")
			input := args[0]

			source := func(ctx context.Context) (*morph.Cell, visualization.Options, error) {
				return loadGraph(input, highlight)
			}

			if serve {
				return runGraphServer(cmd, source, noOpen)
			}

			f, err := visualization.ParseFormat(format)
			if err != nil {
				return err
			}
			c, opts, err := source(cmd.Context())
			if err != nil {
				return err
			}
			body, err := visualization.Render(c, opts, f)
			if err != nil {
				return fmt.Errorf("render %s: %w", f, err)
			}

			if f != visualization.FormatHTML {
				if output == "" {
					_, err := cmd.OutOrStdout().Write(body)
					return err
				}
				if err := os.WriteFile(output, body, 0644); err != nil {
					return fmt.Errorf("write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s\n", output)
				return nil
			}
			return writeStaticHTML(cmd, body, output, noOpen)
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot, json, or html")
	cmd.Flags().StringP("output", "o", "", "Output file path")
	cmd.Flags().StringSlice("highlight", nil, "Section names to draw with a bold outline")
	cmd.Flags().Bool("no-open", false, "Don't open browser after generating HTML")
	cmd.Flags().Bool("serve", false, "Start a local server that re-reads the cell file on every request")

	return cmd
}

// loadGraph reads the cell and resolves highlighted section names.
func loadGraph(path string, highlight []string) (*morph.Cell, visualization.Options, error) {
	loaded, err := pipeline.Load(path)
	if err != nil {
		return nil, visualization.Options{}, err
	}
	opts := visualization.Options{Synapses: loaded.Synapses}
	if len(highlight) > 0 {
		opts.Highlight = make(map[morph.SectionID]bool, len(highlight))
		for _, name := range highlight {
			id, err := loaded.Cell.Lookup(name)
			if err != nil {
				return nil, visualization.Options{}, fmt.Errorf("highlight: %w", err)
			}
			opts.Highlight[id] = true
		}
	}
	return loaded.Cell, opts, nil
}

// writeStaticHTML writes the rendered page to a file and opens it.
func writeStaticHTML(cmd *cobra.Command, body []byte, output string, noOpen bool) error {
	outPath := output
	if outPath == "" {
		outPath = filepath.Join(os.TempDir(), "cablex-graph.html")
	}

	if err := os.WriteFile(outPath, body, 0644); err != nil {
		return fmt.Errorf("write HTML file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s\n", outPath)

	if !noOpen {
		if err := visualization.OpenBrowser(outPath); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, outPath)
		}
	}
	return nil
}

// runGraphServer starts a local HTTP server and blocks until Ctrl-C or the
// command context ends.
func runGraphServer(cmd *cobra.Command, source visualization.Source, noOpen bool) error {
	srv := visualization.NewServer(source)

	srvCtx, srvCancel := context.WithCancel(cmd.Context())
	defer srvCancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			srvCancel()
		case <-srvCtx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(srvCtx) }()

	// Wait for server to start
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if srv.Addr() != "" {
			break
		}
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}

	addr := srv.Addr()
	if addr == "" {
		return fmt.Errorf("server failed to start")
	}

	url := "http://" + addr
	fmt.Fprintf(cmd.OutOrStdout(), "Graph server running at %s\n", url)
	fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

	if !noOpen {
		if err := visualization.OpenBrowser(url); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
		}
	}

	if err := <-errCh; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
