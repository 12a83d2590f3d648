package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/netbeep/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without capturing anything.

Examples:
  netbeep validate /etc/netbeep/netbeep.yml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), args[0])
	},
}

func runValidate(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(w, "INVALID: %v\n", err)
		return err
	}

	fmt.Fprintf(w, "VALID: source %s, tone %s %g-%gHz, %dHz segments of %s, sink %s\n",
		cfg.Capture.Source,
		cfg.Tone.Strategy, cfg.Tone.FreqMin, cfg.Tone.FreqMax,
		cfg.Mixer.SampleRate, cfg.Mixer.SegmentDuration,
		cfg.Sink.Type,
	)
	return nil
}
