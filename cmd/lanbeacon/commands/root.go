// Package commands wires the lanbeacon CLI: the announcement scheduler on
// the server side and the discovery client on the consumer side.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lanbeacon/lanbeacon/internal/config"
)

var (
	// Version is set at build time
	Version = "dev"
	// Commit is set at build time
	Commit = "none"
)

var rootCmd = &cobra.Command{
	Use:   "lanbeacon",
	Short: "lanbeacon - LAN service discovery over UDP broadcast",
	Long: `lanbeacon announces a service's network location over UDP broadcast,
authenticated by a shared secret, so clients on the same subnet can locate
it without prior configuration.

Use "lanbeacon [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(announceCmd)
	rootCmd.AddCommand(discoverCmd)
}

// versionCmd shows version info
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lanbeacon\n")
		fmt.Printf("  Version: %s\n", Version)
		fmt.Printf("  Commit:  %s\n", Commit)
	},
}

// newLogger builds the CLI logger. Verbosity comes from the flag or the
// stored config, whichever enables it.
func newLogger(cmd *cobra.Command, cfg *config.File) (*zap.Logger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	zc := zap.NewDevelopmentConfig()
	if verbose || cfg.Verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return zc.Build()
}
