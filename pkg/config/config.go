// Package config loads the controller configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/sdnctl/pkg/network"
)

// Driver names accepted in Config.Driver.
const (
	DriverOpenFlow = "openflow"
	DriverOVS      = "ovs"
	DriverMemory   = "memory"
)

// Config is the controller configuration.
type Config struct {
	LogLevel string `yaml:"logLevel"` // debug, info, warn, error
	APIAddr  string `yaml:"apiAddr"`  // e.g. ":8080"; empty disables the API

	// Driver selects the rule gateway: openflow, ovs or memory.
	Driver   string         `yaml:"driver"`
	OpenFlow OpenFlowConfig `yaml:"openflow"`
	OVS      OVSConfig      `yaml:"ovs"`

	// Inventory is a static topology file describing switches, links and
	// hosts. Optional with the openflow driver.
	Inventory string `yaml:"inventory"` // e.g. "/etc/sdnctl/topology.yaml"

	ReconcileInterval time.Duration `yaml:"reconcileInterval"`

	L3Routing    L3RoutingConfig    `yaml:"l3routing"`
	LoadBalancer LoadBalancerConfig `yaml:"loadbalancer"`
}

// OpenFlowConfig configures the OpenFlow 1.3 listener.
type OpenFlowConfig struct {
	ListenAddr string `yaml:"listenAddr"` // e.g. ":6653"
}

// OVSConfig maps switch ids to local Open vSwitch bridges.
type OVSConfig struct {
	Bridges map[string]string `yaml:"bridges"` // e.g. {"1": "s1"}
	Sudo    bool              `yaml:"sudo"`
}

// L3RoutingConfig configures shortest-path host routing.
type L3RoutingConfig struct {
	Table      uint8 `yaml:"table"`
	SinglePass bool  `yaml:"singlePass"`
}

// LoadBalancerConfig configures the virtual-IP load balancer.
type LoadBalancerConfig struct {
	Table          uint8         `yaml:"table"`
	IdleTimeout    time.Duration `yaml:"idleTimeout"`
	MaxConnections int           `yaml:"maxConnections"`
	// Instances is a ";"-separated list of "<vip> <vmac> <ip,ip,...>".
	Instances string `yaml:"instances"`
}

// Defaults returns the configuration used for unset fields.
func Defaults() *Config {
	return &Config{
		LogLevel:          "info",
		APIAddr:           ":8080",
		Driver:            DriverOpenFlow,
		OpenFlow:          OpenFlowConfig{ListenAddr: ":6653"},
		ReconcileInterval: 30 * time.Second,
		L3Routing:         L3RoutingConfig{Table: 1},
		LoadBalancer: LoadBalancerConfig{
			Table:          0,
			IdleTimeout:    20 * time.Second,
			MaxConnections: 256,
		},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every problem found in c.
func (c *Config) Validate() error {
	var errs []error

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	switch c.Driver {
	case DriverOpenFlow:
		if c.OpenFlow.ListenAddr == "" {
			errs = append(errs, errors.New("openflow.listenAddr is required"))
		}
	case DriverOVS:
		if len(c.OVS.Bridges) == 0 {
			errs = append(errs, errors.New("ovs.bridges must map at least one switch"))
		}
		if _, err := c.OVSBridges(); err != nil {
			errs = append(errs, err)
		}
		if c.Inventory == "" {
			errs = append(errs, errors.New("the ovs driver needs an inventory file"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q", c.Driver))
	}

	if c.L3Routing.Table == c.LoadBalancer.Table {
		errs = append(errs, fmt.Errorf("l3routing.table and loadbalancer.table must differ (both %d)", c.L3Routing.Table))
	}
	if c.LoadBalancer.IdleTimeout < time.Second {
		errs = append(errs, fmt.Errorf("loadbalancer.idleTimeout %s is below one second", c.LoadBalancer.IdleTimeout))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, fmt.Errorf("reconcileInterval %s is negative", c.ReconcileInterval))
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return lvl, fmt.Errorf("logLevel: %w", err)
	}
	return lvl, nil
}

// OVSBridges returns the bridge map keyed by parsed switch id.
func (c *Config) OVSBridges() (map[network.SwitchID]string, error) {
	out := make(map[network.SwitchID]string, len(c.OVS.Bridges))
	for k, br := range c.OVS.Bridges {
		id, err := network.ParseSwitchID(k)
		if err != nil {
			return nil, fmt.Errorf("ovs.bridges: %w", err)
		}
		if br == "" {
			return nil, fmt.Errorf("ovs.bridges: switch %s has no bridge name", id)
		}
		out[id] = br
	}
	return out, nil
}
