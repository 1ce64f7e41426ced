package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanbeacon/lanbeacon/internal/config"
	"github.com/lanbeacon/lanbeacon/internal/discover"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Locate announced services on the local network",
	Long: `Listen for service announcements and print the discovered address.

By default the client listens passively for a broadcast announcement. With
--request it provokes an immediate reply from on-request servers; with
--all it surveys every server answering within the timeout.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().String("key", "", "Expected shared secret")
	discoverCmd.Flags().Int("port", 0, fmt.Sprintf("UDP discovery port (default %d)", config.DefaultPort))
	discoverCmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for announcements")
	discoverCmd.Flags().Bool("request", false, "Send a discovery request instead of listening passively")
	discoverCmd.Flags().Bool("all", false, "Collect every answering server until the timeout")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("key") {
		cfg.SharedKey, _ = cmd.Flags().GetString("key")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []discover.Option{discover.WithLogger(logger)}
	if cfg.Port != 0 {
		opts = append(opts, discover.WithPort(cfg.Port))
	}
	client := discover.New(cfg.SharedKey, opts...)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	all, _ := cmd.Flags().GetBool("all")
	request, _ := cmd.Flags().GetBool("request")

	if all {
		endpoints, err := client.DiscoverAll(timeout)
		if err != nil {
			return err
		}
		if len(endpoints) == 0 {
			return fmt.Errorf("no matching services answered within %s", timeout)
		}
		for _, ep := range endpoints {
			fmt.Printf("%s\t%s\n", ep.Addr(), ep.Service)
		}
		return nil
	}

	var ep discover.Endpoint
	if request {
		ep, err = client.Request(timeout)
	} else {
		ep, err = client.Discover(timeout)
	}
	if errors.Is(err, discover.ErrTimeout) {
		return fmt.Errorf("no matching service found within %s", timeout)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\n", ep.Addr(), ep.Service)
	return nil
}
