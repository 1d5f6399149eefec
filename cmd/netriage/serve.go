package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/netriage/config"
	"github.com/mohammad-safakhou/netriage/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var addr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the triage HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Address = addr
			}
			srv, err := server.New(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			return srv.Run()
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return serve
}
