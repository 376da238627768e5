package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootFlags = struct {
	verbose *bool
}{}

var rootCmd = &cobra.Command{
	Use:   "astbeam",
	Short: "Inspect and test a grammar for grammar-constrained decoding",
	Long: `astbeam provides two features:
- Prints the types, productions, and fields of a grammar along with the
  stable numbers a scorer addresses them by.
- Replays action scripts against the grammar and compares the derived trees
  with expected ones.
  This feature is primarily aimed at debugging the grammar.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootFlags.verbose = rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging (ASTBEAM_VERBOSE does the same)")
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return err
	}
	return nil
}

func newLogger() *slog.Logger {
	// The env var is read at call time. Flag defaults are computed during
	// init, which runs before main has loaded the .env file.
	if *rootFlags.verbose || os.Getenv("ASTBEAM_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
