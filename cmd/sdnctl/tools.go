package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/glennswest/sdnctl/pkg/network"
	"github.com/glennswest/sdnctl/pkg/network/lab"
	"github.com/glennswest/sdnctl/pkg/network/routing"
	"github.com/glennswest/sdnctl/pkg/network/topology"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and inventory without starting the controller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfigFlag(cmd.Flags())
		if err != nil {
			return err
		}
		if cfg.Inventory != "" {
			f, err := resolveInventory(cfg.Inventory)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "inventory %s: %d switches, %d links, %d hosts\n",
				cfg.Inventory, len(f.Switches), len(f.Links)/2, len(f.Devices))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config %s: ok\n", path)
		return nil
	},
}

var pathsCmd = &cobra.Command{
	Use:   "paths <inventory>",
	Short: "Print the next-hop table computed for an inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		singlePass, err := cmd.Flags().GetBool("single-pass")
		if err != nil {
			return err
		}
		f, err := resolveInventory(args[0])
		if err != nil {
			return err
		}
		g := topology.NewGraph(f.Switches, f.Links)
		pt := routing.ComputePathsWithOptions(g, routing.Options{SinglePass: singlePass})

		out, err := yaml.Marshal(pt.Entries())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var labCmd = &cobra.Command{
	Use:   "lab <topology>",
	Short: "Write the inventory of a reference topology",
	Long:  "Write the inventory of a reference topology. Known topologies: " + strings.Join(lab.Names(), " "),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, err := cmd.Flags().GetString("output")
		if err != nil {
			return err
		}
		inv, err := lab.Build(args[0])
		if err != nil {
			return err
		}
		if outPath != "" {
			return inv.Save(outPath)
		}
		out, err := yaml.Marshal(inv)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	pathsCmd.Flags().Bool("single-pass", false, "Stop relaxation after one pass over the links")
	labCmd.Flags().StringP("output", "o", "", "Write the inventory to a file instead of stdout")
}

func resolveInventory(path string) (*network.Fabric, error) {
	inv, err := network.LoadInventory(path)
	if err != nil {
		return nil, err
	}
	f, err := inv.Resolve()
	if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", path, err)
	}
	return f, nil
}
