package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lungai/internal/config"
	"lungai/internal/graph"
	"lungai/internal/httpapi"
	"lungai/internal/store"
	"lungai/internal/xray"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "lungai",
		Short:         "Chest X-ray classification with Grad-CAM explainability",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to a yaml/json/toml config file")

	loadCfg := func() (config.Config, error) {
		if cfgPath == "" {
			if v := os.Getenv("LUNGAI_CONFIG"); v != "" {
				cfgPath = v
			}
		}
		return config.Load(cfgPath)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			log := zerolog.New(os.Stderr).With().Timestamp().Logger()
			return runServe(cfg, log)
		},
	}

	var explainOut string
	predict := &cobra.Command{
		Use:   "predict <image>",
		Short: "Classify one X-ray image and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			svc := newService(cfg, consoleLogger())
			pred, err := svc.ClassifyImage(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(pred)
		},
	}

	explain := &cobra.Command{
		Use:   "explain <image>",
		Short: "Write a Grad-CAM heatmap overlay for one X-ray image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			out := explainOut
			if out == "" {
				base := strings.TrimSuffix(args[0], filepath.Ext(args[0]))
				out = base + "_heatmap.png"
			}
			svc := newService(cfg, consoleLogger())
			if !svc.Available() {
				return xray.ErrModelUnavailable
			}
			path, ok := svc.ExplainImage(args[0], out)
			if !ok {
				return fmt.Errorf("no heatmap could be produced for %s", args[0])
			}
			fmt.Println(path)
			return nil
		},
	}
	explain.Flags().StringVarP(&explainOut, "out", "o", "", "Output image path (default <image>_heatmap.png)")

	var synthOut string
	modelCmd := &cobra.Command{Use: "model", Short: "Model artifact utilities"}
	synth := &cobra.Command{
		Use:   "synth",
		Short: "Write a small randomly initialized artifact for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			out := synthOut
			if out == "" {
				out = cfg.ModelPath
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			m := graph.RandomModel(rng, xray.InputSize, len(cfg.Classes))
			if err := graph.Save(out, m); err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	synth.Flags().StringVarP(&synthOut, "out", "o", "", "Artifact path (default the configured model path)")
	modelCmd.AddCommand(synth)

	root.AddCommand(serve, predict, explain, modelCmd)
	return root
}

func consoleLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func newService(cfg config.Config, log zerolog.Logger) *xray.Service {
	seed := cfg.DemoSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	loader := xray.NewLoader(cfg.ModelPath, log)
	return xray.NewService(loader, cfg.Classes, rng, log)
}

func runServe(cfg config.Config, log zerolog.Logger) error {
	svc := newService(cfg, log)
	db := store.NewMemory()
	router := httpapi.NewRouter(svc, db, cfg, log)

	srv := &http.Server{Addr: cfg.Addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("demo_mode", !svc.Available()).Msg("lungai listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
