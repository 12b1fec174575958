package main

import (
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/sqlring/sqlring/pkg/client"
	"github.com/sqlring/sqlring/pkg/config"
	"github.com/sqlring/sqlring/pkg/partition"
	"github.com/sqlring/sqlring/pkg/pool"
	"github.com/sqlring/sqlring/pkg/ringlog"
	"github.com/sqlring/sqlring/pkg/topology"
	"github.com/sqlring/sqlring/router"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "sqlring run --config `path-to-config`",
	Short: "sqlring",
	Long:  "sqlring distributed-execution core",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run node",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadNodeCfg(cfgPath); err != nil {
			return err
		}
		cfg := config.NodeConfig()
		if err := ringlog.UpdateZeroLogLevel(cfg.LogLevel); err != nil {
			return err
		}

		self := topology.Endpoint(cfg.Addr)
		members := make([]topology.Endpoint, 0, len(cfg.Members))
		dcs := map[topology.Endpoint]string{self: cfg.Datacenter}
		for _, m := range cfg.Members {
			ep := topology.Endpoint(m.Addr)
			members = append(members, ep)
			dcs[ep] = m.Datacenter
		}
		seeds := make([]topology.Endpoint, 0, len(cfg.Seeds))
		for _, s := range cfg.Seeds {
			seeds = append(seeds, topology.Endpoint(s))
		}

		view := topology.NewStaticView(self, seeds, members)
		snitch := topology.NewStaticSnitch(dcs)
		partitioner := partition.Murmur3Partitioner{}
		replication := partition.NewRingReplication(partitioner, cfg.ReplicationFactor, append(members, self))
		resolver := router.NewResolver(partitioner, replication, partition.NewRingTokenMetadata())

		dialer := func(addr string) (io.ReadWriteCloser, error) {
			return net.DialTimeout("tcp", addr, 5*time.Second)
		}
		sessions := pool.NewSessionPool(dialer, client.Options{
			CachedObjects: cfg.ServerCachedObjects,
			FetchSize:     cfg.FetchSize,
		})

		_ = router.New(view, snitch, resolver, sessions, time.Now().UnixNano())

		ringlog.Zero.Info().
			Str("addr", cfg.Addr).
			Str("datacenter", cfg.Datacenter).
			Int("members", len(members)).
			Msg("node initialized")

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		ringlog.Zero.Info().Msg("shutting down")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "/etc/sqlring/config.yaml", "path to config file")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		ringlog.Zero.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
}
