package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/oct-api/internal/config"
	"github.com/Brownie44l1/oct-api/internal/handlers"
	"github.com/Brownie44l1/oct-api/internal/imageio"
	"github.com/Brownie44l1/oct-api/internal/logging"
	"github.com/Brownie44l1/oct-api/internal/metrics"
	"github.com/Brownie44l1/oct-api/internal/model"
	"github.com/Brownie44l1/oct-api/internal/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "octscan",
		Short:        "Classify retinal OCT scans and explain the prediction",
		Long:         "Classify retinal OCT scans and explain the prediction.\n\nEnvironment:\n" + config.Usage(),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(newPredictCmd())
	return root
}

func newPredictCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "predict IMAGE",
		Short: "Run one scan through the pipeline and write the rendered images",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return predictFile(cmd.Context(), args[0], outDir)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "directory for the normalized scan and overlay")
	return cmd
}

// bootstrap loads config, logger and classifier. A classifier that cannot
// be loaded is fatal.
func bootstrap() (*config.Config, *zap.Logger, *model.Handle, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, nil, err
	}

	logger.Info("loading model",
		zap.String("backend", cfg.ModelBackend),
		zap.String("model", resolve(cfg.ModelPath)),
	)
	handle, err := model.Load(model.Options{
		Backend:      cfg.ModelBackend,
		ModelPath:    resolve(cfg.ModelPath),
		MetadataPath: resolve(cfg.MetadataPath),
		LibraryPath:  cfg.ORTLibraryPath,
	})
	if err != nil {
		logger.Error("failed to initialize model", zap.Error(err))
		return nil, nil, nil, err
	}
	return cfg, logger, handle, nil
}

// resolve makes relative model paths work when started from cmd/server.
func resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if filepath.Base(wd) == "server" {
		wd = filepath.Join(wd, "../..")
	}
	return filepath.Join(wd, path)
}

func serve(ctx context.Context) error {
	cfg, logger, handle, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer handle.Close()

	m := metrics.New(logger)
	p, err := pipeline.New(handle.Predictor, handle.Metadata, logger, m)
	if err != nil {
		logger.Error("classifier rejected", zap.Error(err))
		return err
	}

	router := handlers.NewRouter(handlers.NewHandler(p, cfg.MaxUploadBytes, logger), m, logger)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.Strings("classes", handle.Metadata.Classes),
			zap.String("layer", handle.Metadata.LayerName),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func predictFile(ctx context.Context, path, outDir string) error {
	_, logger, handle, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer handle.Close()

	p, err := pipeline.New(handle.Predictor, handle.Metadata, logger, nil)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, _, err := imageio.Decode(data)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx, img)
	if err != nil {
		return err
	}

	base := filepath.Base(path)
	base = base[:len(base)-len(filepath.Ext(base))]
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, base+"_normalized.png"), result.Original, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(outDir, base+"_overlay.png"), result.Overlay, 0o644); err != nil {
		return err
	}

	fmt.Printf("%s: %s (%.4f)\n", path, result.Class, result.Confidence)
	for _, prob := range result.Probabilities {
		fmt.Printf("  %-7s %.4f\n", prob.Class, prob.Probability)
	}
	return nil
}
