package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nodeship/api/assembly"
	"nodeship/api/proxy"
)

var proxyWrite bool

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Render or serve the node's reverse proxy",
}

var proxyRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Print the routing config the backend writes (or write it with --write)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := localConfig()
		if err != nil {
			return err
		}
		rc := assembly.DefaultRouting(cfg)
		if err := rc.Validate(); err != nil {
			return err
		}
		if proxyWrite {
			if err := rc.WriteFile(cfg.RoutingConfig); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "wrote", cfg.RoutingConfig)
			return nil
		}
		return rc.Render(os.Stdout)
	},
}

var proxyServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the routing config written by the backend",
	Long: `Serve refuses to start until the backend has written its routing config.
Routes are fixed for the life of the process; a new backend build brings a
new proxy.`,
	Args:  cobra.NoArgs,
	RunE:  runProxyServe,
}

func init() {
	proxyRenderCmd.Flags().BoolVar(&proxyWrite, "write", false, "write to the configured routing config path")
	proxyCmd.AddCommand(proxyRenderCmd, proxyServeCmd)
	rootCmd.AddCommand(proxyCmd)
}

func runProxyServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := localConfig()
	if err != nil {
		return err
	}
	rc, err := assembly.Routing(cfg)
	if err != nil {
		return err
	}
	srv, err := proxy.NewServer(rc, log.Named("proxy"))
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("reverse proxy listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
