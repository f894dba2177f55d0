// sdnctl: OpenFlow 1.3 control plane providing shortest-path IPv4 routing
// between hosts and a virtual-IP TCP load balancer.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/glennswest/sdnctl/pkg/config"
)

var version = "dev"

var mainCmd = &cobra.Command{
	Use:           "sdnctl",
	Short:         "SDN controller for host routing and virtual-IP load balancing",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	mainCmd.PersistentFlags().StringP("config", "c", "/etc/sdnctl/config.yaml", "Path to the controller configuration")
	mainCmd.AddCommand(runCmd, validateCmd, pathsCmd, labCmd)
}

// loadConfigFlag loads and validates the file named by --config.
func loadConfigFlag(flags *pflag.FlagSet) (*config.Config, string, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func newLogger(level zapcore.Level) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func main() {
	if _, err := mainCmd.ExecuteC(); err != nil {
		fmt.Fprintln(os.Stderr, "sdnctl:", err)
		os.Exit(1)
	}
}
