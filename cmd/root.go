// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netbeep/internal/config"
	"firestige.xyz/netbeep/internal/daemon"
)

var (
	// Global flags
	configFile string
	iface      string
	pcapFile   string
	sinkType   string
	wavOut     string
	pidFile    string
)

// rootCmd captures and plays until interrupted.
var rootCmd = &cobra.Command{
	Use:   "netbeep",
	Short: "netbeep - listen to your network",
	Long: `netbeep captures IPv4 addressing metadata on every CPU of an interface
and turns it into a continuous tone mix: each source address becomes a set of
sine voices, normalized so the mix never clips.

Records can also be replayed from a pcap file, and the mix can be recorded to
a WAV file instead of played on the default audio device.

Examples:
  netbeep -i eth0
  netbeep --pcap trace.pcap --sink wav --wav-out trace.wav
  netbeep -c /etc/netbeep/netbeep.yml`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		d := daemon.New(cfg, pidFile)
		if err := d.Start(ctx); err != nil {
			return err
		}
		return d.Run(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and NETBEEP_* environment when empty)")
	rootCmd.PersistentFlags().StringVarP(&iface, "iface", "i", "eth0",
		"network interface to capture on")
	rootCmd.PersistentFlags().StringVar(&pcapFile, "pcap", "",
		"replay a pcap/pcapng file instead of capturing live")
	rootCmd.PersistentFlags().StringVar(&sinkType, "sink", "",
		"audio sink: oto, wav or discard")
	rootCmd.PersistentFlags().StringVar(&wavOut, "wav-out", "",
		"WAV file written by the wav sink (implies --sink wav)")
	rootCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig reads the config file, applies the command-line overrides and
// validates the result once.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Read(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags given explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("iface") {
		cfg.Capture.Source = "afpacket"
		cfg.Capture.Interface = iface
	}
	if flags.Changed("pcap") {
		cfg.Capture.Source = "pcap"
		cfg.Capture.PcapFile = pcapFile
	}
	if flags.Changed("wav-out") {
		cfg.Sink.Type = "wav"
		cfg.Sink.WAV.Path = wavOut
	}
	if flags.Changed("sink") {
		cfg.Sink.Type = sinkType
	}
}
