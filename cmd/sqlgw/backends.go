package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	sqlgateway "github.com/tobilg/caddyserver-sqlgateway-module"
)

// backendsCmd creates the backends subcommand
func backendsCmd(v *viper.Viper) *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "backends",
		Short: "List the URI schemes and the backends serving them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			gw, err := cfg.Build(zap.NewNop())
			if err != nil {
				return err
			}
			return printBackends(cmd, gw)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")

	return cmd
}

func printBackends(cmd *cobra.Command, gw *sqlgateway.Gateway) error {
	registry := gw.Dispatcher.Registry()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEME\tBACKEND")
	fmt.Fprintln(w, "------\t-------")
	for _, scheme := range registry.Schemes() {
		backend, err := registry.Lookup(scheme + "://")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", scheme, backend.Name())
	}
	return w.Flush()
}
