package main

import (
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/delver/config"
	srv "github.com/mohammad-safakhou/delver/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string

	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			return srv.Run(cfg)
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
