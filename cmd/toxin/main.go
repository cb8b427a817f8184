package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/CZERTAINLY/toxin/internal/bom"
	"github.com/CZERTAINLY/toxin/internal/config"
	"github.com/CZERTAINLY/toxin/internal/log"
	"github.com/CZERTAINLY/toxin/internal/model"
	"github.com/CZERTAINLY/toxin/internal/scan"
	"github.com/CZERTAINLY/toxin/internal/schema"
	"github.com/CZERTAINLY/toxin/internal/server"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatJSON      = "json"
	formatCycloneDX = "cyclonedx"
)

var (
	configPath string // actual config file used (if loaded)
	cfg        config.Config
	logCloser  io.Closer

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag

	flagURLs     []string
	flagMethod   string
	flagCookies  string
	flagHeaders  string
	flagPayload  string
	flagFormat   string
	flagParallel int
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is $TOXINCONFIG or "+config.FileName+" in the user config dir or in current directory")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	scanCmd.Flags().StringArrayVarP(&flagURLs, "url", "u", nil, "target URL, can be repeated")
	scanCmd.Flags().StringVar(&flagMethod, "method", "GET", "HTTP method")
	scanCmd.Flags().StringVar(&flagCookies, "cookies", "", "cookies sent with every request")
	scanCmd.Flags().StringVar(&flagHeaders, "headers", "", "headers sent with every request")
	scanCmd.Flags().StringVar(&flagPayload, "payload", "", `custom payload: <script src="https://..."></script> or an inline <script> block`)
	scanCmd.Flags().StringVar(&flagFormat, "format", formatJSON, "output format: json or cyclonedx")
	scanCmd.Flags().IntVar(&flagParallel, "parallel", 0, "concurrent scans, default is scan.parallel from config")
	_ = scanCmd.MarkFlagRequired("url")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse a config, setup logging
	rootCmd.PersistentPreRunE = initToxin

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		slog.Error("toxin failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "toxin",
	Short:        "Runs the toxssin XSS scanner and reports its findings",
	SilenceUsage: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "scan the given URLs and print the results to stdout",
	RunE:  doScan,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the scan HTTP API",
	RunE:  doServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding configuration: %w", err)
		}
		return enc.Close()
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "print the JSON schema of a scan result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, err := cmd.OutOrStdout().Write(schema.ScanResult())
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a toxin",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("toxin: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config: %s\n", configPath)
		}
		fmt.Printf("toxin:  %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doScan(cmd *cobra.Command, _ []string) error {
	switch flagFormat {
	case formatJSON, formatCycloneDX:
	default:
		return fmt.Errorf("unsupported format %q: use %s or %s", flagFormat, formatJSON, formatCycloneDX)
	}

	reqs := make([]model.ScanRequest, 0, len(flagURLs))
	for _, u := range flagURLs {
		req, err := model.NewScanRequest(model.RequestParams{
			URL:     u,
			Method:  flagMethod,
			Cookies: flagCookies,
			Headers: flagHeaders,
			Payload: flagPayload,
		})
		if err != nil {
			return err
		}
		reqs = append(reqs, req)
	}

	parallel := flagParallel
	if parallel <= 0 {
		parallel = cfg.Scan.Parallel
	}

	ctx := log.ContextAttrs(cmd.Context(), slog.Group("toxin",
		slog.String("cmd", "scan"),
		slog.Int("pid", os.Getpid()),
	))
	results := scan.New(cfg).RunAll(ctx, reqs, parallel)

	if err := write(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	var failed int
	for _, r := range results {
		if r.Status != model.StatusCompleted {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scans failed", failed, len(results))
	}
	return nil
}

func write(w io.Writer, results []model.ScanResult) error {
	if flagFormat == formatCycloneDX {
		props := []cdx.Property{
			{Name: "toxin:tool", Value: cfg.Tool.Path},
		}
		if configPath != "" {
			props = append(props, cdx.Property{Name: "toxin:config", Value: configPath})
		}
		return bom.NewBuilder().
			AppendProperties(props...).
			AppendResults(results...).
			AsJSON(w)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if len(results) == 1 {
		return enc.Encode(results[0])
	}
	return enc.Encode(results)
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("toxin",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))
	if !cfg.Log.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	orchestrator := scan.New(cfg)
	if _, err := orchestrator.CheckTool(ctx); err != nil {
		slog.WarnContext(ctx, "scans will fail until the tool is installed", "error", err)
	}
	// a canceled scan needs up to two kill graces to stop its process
	shutdown := 3 * cfg.Scan.KillGrace
	return server.New(cfg.Server, orchestrator).ListenAndServe(ctx, shutdown)
}

func initToxin(cmd *cobra.Command, _ []string) error {
	var err error
	configPath = config.Find(flagConfigFilePath)
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Log.Verbose = true
	}

	var logger *slog.Logger
	logger, logCloser = log.New(log.Options{
		Verbose:    cfg.Log.Verbose,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	slog.SetDefault(logger)

	slog.Debug("toxin run", "configPath", configPath)
	slog.Debug("toxin run", "config", cfg)
	return nil
}
