package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/flowgen/pkg/flowgen/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the generation API over HTTP",
		Long: `Starts the HTTP API. POST /generate-workflow streams progress as
server-sent events; GET /quota reports the caller's remaining generations.

The server shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := root.settings()
			if err != nil {
				return err
			}
			if addr != "" {
				s.Server.Addr = addr
			}
			if err := s.Validate(); err != nil {
				return err
			}

			a := newApp(s, cmd.ErrOrStderr())
			defer a.Close()

			p, err := a.pipeline()
			if err != nil {
				return err
			}
			limiter, err := a.limiter()
			if err != nil {
				return err
			}
			authn, err := a.authenticator()
			if err != nil {
				return err
			}
			srv, err := server.New(p, limiter, authn,
				server.WithLogger(a.logger),
				server.WithSearchEnabled(s.Server.EnableSearch),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx, s.Server.Addr, s.Server.ShutdownTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
