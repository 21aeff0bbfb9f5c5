package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/grpc"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/httpapi"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/kernel"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/observability"
	"github.com/jason-easyazz/zoe-ai-assistant-sub015/coreengine/runtime"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve chat over HTTP (SSE, WebSocket) and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
}

// serve runs both listeners until ctx ends, then drains them within the
// configured shutdown window.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger
	logger.Info("zoe_core_starting",
		"version", observability.Version,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	k := kernel.NewKernel(logger, cfg.Core, kernel.RateLimitsFromConfig(cfg.Limits))
	if b.snapshots != nil {
		k.Sessions().SetSnapshotStore(b.snapshots)
	}
	k.Start(kernel.DefaultCleanupConfig())

	bus := newBus(logger)
	detach, err := attachForwarder(cfg.AMQP, bus, logger)
	if err != nil {
		_ = k.Shutdown(context.Background())
		return err
	}

	assembly, err := runtime.Assemble(cfg.Core, runtime.Deps{
		Catalog:  b.catalog,
		Model:    b.model,
		Episodes: b.episodes,
		Records:  b.records,
		Kernel:   k,
		Bus:      bus,
	}, logger)
	if err != nil {
		_ = detach()
		_ = k.Shutdown(context.Background())
		return err
	}

	httpSrv := httpapi.New(assembly.Pipeline, cfg.Tracing.ServiceName, logger)
	grpcSrv := grpc.NewGracefulServer(grpc.NewChatServer(assembly.Pipeline, logger), cfg.Server.GRPCAddr)

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.ListenAndServe(cfg.Server.HTTPAddr) }()
	go func() { errCh <- grpcSrv.Start(ctx) }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal_received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("listener_failed", "error", serveErr.Error())
		}
	}

	window := time.Duration(cfg.Server.ShutdownSeconds) * time.Second
	if window <= 0 {
		window = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	errs := []error{serveErr}
	errs = append(errs, httpSrv.Shutdown(shutdownCtx))
	grpcSrv.ShutdownWithTimeout(window)
	errs = append(errs,
		detach(),
		assembly.Close(shutdownCtx),
		shutdownTracer(shutdownCtx),
	)
	logger.Info("zoe_core_stopped")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
