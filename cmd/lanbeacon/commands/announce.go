package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lanbeacon/lanbeacon/internal/announce"
	"github.com/lanbeacon/lanbeacon/internal/config"
	"github.com/lanbeacon/lanbeacon/internal/netutil"
)

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Run the announcement scheduler",
	Long: `Announce this host's service over UDP broadcast until interrupted.

The mode fixes the cadence for the whole run:
  periodic    broadcast every interval, forever (default)
  limited     broadcast every interval, stop after --count sends
  on-request  stay silent, reply unicast to discovery requests`,
	RunE: runAnnounce,
}

func init() {
	announceCmd.Flags().String("key", "", "Shared secret carried in announcements")
	announceCmd.Flags().String("service", "", "Advertised service name")
	announceCmd.Flags().Int("port", 0, fmt.Sprintf("UDP discovery port (default %d)", config.DefaultPort))
	announceCmd.Flags().Int("advertise-port", 0, "Reachable application port to advertise (required)")
	announceCmd.Flags().String("mode", "", "Announcement mode: periodic, on-request, or limited")
	announceCmd.Flags().Duration("interval", 0, fmt.Sprintf("Announcement cadence (default %s)", config.DefaultInterval))
	announceCmd.Flags().Int("count", 0, "Number of announcements in limited mode")
	announceCmd.Flags().Bool("directed", false, "Target the subnet's directed broadcast address instead of 255.255.255.255")
}

func runAnnounce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyAnnounceFlags(cmd, cfg)

	sess, err := cfg.Session()
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	opts := []announce.Option{
		announce.WithLogger(logger),
		announce.WithVersion(Version),
	}

	directed, _ := cmd.Flags().GetBool("directed")
	if directed {
		ipnet, err := netutil.LocalIPNet()
		if err != nil {
			return fmt.Errorf("resolve subnet for directed broadcast: %w", err)
		}
		opts = append(opts,
			announce.WithLocalIP(ipnet.IP),
			announce.WithTarget(&net.UDPAddr{
				IP:   netutil.BroadcastAddr(ipnet.IP, ipnet.Mask),
				Port: sess.Port,
			}))
	}

	ann := announce.New(sess, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ann.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-ann.Done():
	}
	ann.Stop()
	return nil
}

func applyAnnounceFlags(cmd *cobra.Command, cfg *config.File) {
	if cmd.Flags().Changed("key") {
		cfg.SharedKey, _ = cmd.Flags().GetString("key")
	}
	if cmd.Flags().Changed("service") {
		cfg.ServiceName, _ = cmd.Flags().GetString("service")
	}
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("advertise-port") {
		cfg.AdvertisePort, _ = cmd.Flags().GetInt("advertise-port")
	}
	if cmd.Flags().Changed("mode") {
		cfg.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Changed("interval") {
		interval, _ := cmd.Flags().GetDuration("interval")
		cfg.IntervalSeconds = int(interval / time.Second)
	}
	if cmd.Flags().Changed("count") {
		cfg.Count, _ = cmd.Flags().GetInt("count")
	}
}
