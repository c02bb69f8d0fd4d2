package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"voicechat/core"
	"voicechat/transports/websocket"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversation to browser clients over a websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := opts.loadSettings()
			if addr != "" {
				settings.Server.Addr = addr
			}

			// The hub logs through the plain logger so that forwarding a log
			// line never produces another one.
			hubLogger := core.NewDevelopmentLogger(os.Stdout, core.LevelInfo)
			hub := websocket.NewHub(hubLogger)
			logger, closeLogs := setupLogger(settings, os.Stdout, core.LevelInfo, hub.LogWriter())
			defer closeLogs()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := settings.BuildSession(ctx, hub.EventListener(), logger)
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.Engine.LoadSession(ctx); err != nil {
				logger.Warn("starting with an empty conversation", "error", err)
			}

			serverConfig := settings.Server
			serverConfig.AudioDir = s.Audio.Dir()
			server := websocket.NewServer(serverConfig, s.Engine, s.Extractor, hub, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.ListenAndServe(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				closed := hub.CloseAll()
				logger.Info("Shutting down...", "clients_closed", closed)
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

