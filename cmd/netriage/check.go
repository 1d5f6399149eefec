package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/netriage/config"
	"github.com/mohammad-safakhou/netriage/internal/endpoint"
)

// checkCMD validates config and endpoint catalog without starting anything:
// the same load-time checks the server runs, usable in CI and pre-deploy.
func checkCMD() *cobra.Command {
	var cfgPath string
	var check = &cobra.Command{
		Use:   "check",
		Short: "Validate config and endpoint catalog, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			catalogCfgs, err := endpoint.LoadCatalog(cfg.Endpoints.Path)
			if err != nil {
				return err
			}
			catalog, err := endpoint.NewCatalog(catalogCfgs)
			if err != nil {
				return err
			}
			// Building every worker's tool set exercises the full contract
			// validation, including unknown tool references.
			for _, w := range cfg.Workers {
				if _, err := catalog.Build(w.Tools, nil); err != nil {
					return fmt.Errorf("worker %s: %w", w.Name, err)
				}
			}
			fmt.Printf("ok: %d workers, %d endpoints, %d devices\n", len(cfg.Workers), len(catalogCfgs), len(cfg.Devices))
			return nil
		},
	}
	check.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	return check
}
