// Package config is zecd's command-line and environment configuration
// layer: a cobra root command whose flags are bound through viper, so
// every setting can come from a flag or an environment variable
// (ZECD_-prefixed), in that order of precedence. No config file is read.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zecwire/zecd/pkg/chain/params"
)

// Config holds every setting zecd's entrypoint needs to wire up a node.
type Config struct {
	Network params.Network

	ListenPort     int
	BootstrapPeers []string
	MaxPeers       int

	DataDir string

	CheckpointFile    string
	CheckpointIPFSCID string
	IPFSAPIAddr       string

	RPCListenAddr string
	RPCRateLimit  float64
	RPCBurst      int

	MetricsListenAddr string

	LogLevel string
}

// NewRootCommand builds the zecd root command. run is invoked with a
// parsed Config once cobra has resolved flags and environment variables.
func NewRootCommand(run func(*Config) error) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "zecd",
		Short: "zecd is a checkpoint-verifying Zcash node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("network", string(params.NetworkMainnet), "network to join: mainnet, testnet, or regtest")
	flags.Int("listen-port", 0, "libp2p listen port (0 picks a random free port)")
	flags.StringSlice("bootstrap-peers", nil, "multiaddrs of bootstrap peers to dial on startup")
	flags.Int("max-peers", 50, "maximum number of connected peers")
	flags.String("data-dir", "./zecd-data", "directory for the block store and other on-disk state")
	flags.String("checkpoint-file", "", "path to a local checkpoint list file (height,hash per line)")
	flags.String("checkpoint-ipfs-cid", "", "IPFS CID of a checkpoint list snapshot, fetched if checkpoint-file is unset")
	flags.String("ipfs-api", "localhost:5001", "address of the local IPFS HTTP API")
	flags.String("rpc-listen-addr", "127.0.0.1:8232", "address the RPC/indexer HTTP server listens on")
	flags.Float64("rpc-rate-limit", 20, "RPC block submissions (POST /blocks) per second allowed per process")
	flags.Int("rpc-burst", 40, "RPC block submission burst size")
	flags.String("metrics-listen-addr", "", "address the Prometheus metrics endpoint listens on, empty disables it")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	if err := v.BindPFlags(flags); err != nil {
		panic(fmt.Sprintf("config: failed to bind flags: %v", err))
	}

	v.SetEnvPrefix("zecd")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

func resolve(v *viper.Viper) (*Config, error) {
	network := params.Network(v.GetString("network"))
	if _, ok := params.MagicForNetwork(network); !ok {
		return nil, fmt.Errorf("config: unrecognized network %q", network)
	}

	cfg := &Config{
		Network:           network,
		ListenPort:        v.GetInt("listen-port"),
		BootstrapPeers:    v.GetStringSlice("bootstrap-peers"),
		MaxPeers:          v.GetInt("max-peers"),
		DataDir:           v.GetString("data-dir"),
		CheckpointFile:    v.GetString("checkpoint-file"),
		CheckpointIPFSCID: v.GetString("checkpoint-ipfs-cid"),
		IPFSAPIAddr:       v.GetString("ipfs-api"),
		RPCListenAddr:     v.GetString("rpc-listen-addr"),
		RPCRateLimit:      v.GetFloat64("rpc-rate-limit"),
		RPCBurst:          v.GetInt("rpc-burst"),
		MetricsListenAddr: v.GetString("metrics-listen-addr"),
		LogLevel:          v.GetString("log-level"),
	}

	if cfg.CheckpointFile == "" && cfg.CheckpointIPFSCID == "" {
		return nil, fmt.Errorf("config: one of checkpoint-file or checkpoint-ipfs-cid must be set")
	}

	return cfg, nil
}
