package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"deskchat/assistant"
	"deskchat/db"
	"deskchat/metrics"
	"deskchat/ui"
	"deskchat/utils"
)

var (
	version = "0.1.0"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run starts deskchat and returns the process exit code.
func run(args []string) int {
	flags := flag.NewFlagSet("deskchat", flag.ContinueOnError)
	configPath := flags.String("config", "", "Path to configuration file")
	showVersion := flags.Bool("version", false, "Show version information")
	metricsAddr := flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (overrides config)")
	console := flags.Bool("console", false, "Mirror logs to stderr")
	exportID := flags.Int64("export", 0, "Export the chat with this ID and exit")
	exportFormat := flags.String("format", string(utils.FormatMarkdown), "Export format: json or markdown")
	exportOut := flags.String("out", "", "Export destination file (default: exports directory)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		fmt.Printf("deskchat v%s\n", version)
		return 0
	}

	if err := utils.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		return 1
	}

	actualConfigPath, err := utils.EnsureDefaultConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create default config: %v\n", err)
		return 1
	}
	config, err := utils.LoadConfig(actualConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *metricsAddr != "" {
		config.Metrics.Addr = *metricsAddr
	}

	logger, err := utils.NewLogger(utils.GetLogPath(config.Log.Dir), config.Log.Level, *console)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer logger.Close()

	logger.Info().Str("version", version).Str("config", actualConfigPath).Msg("starting deskchat")

	database, err := db.New(config.Data.DBPath, logger.Logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize database")
		return 1
	}
	defer database.Close()
	logger.Info().Str("path", config.Data.DBPath).Msg("database ready")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *exportID != 0 {
		if err := exportChat(ctx, database, *exportID, utils.ExportFormat(*exportFormat), *exportOut); err != nil {
			logger.Error().Err(err).Int64("chat_id", *exportID).Msg("export failed")
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			return 1
		}
		return 0
	}

	seedSettings(ctx, database, logger)

	m := metrics.Global()
	if config.Metrics.Addr != "" {
		utils.SafeGoWithError(logger.Logger, "metrics listener", func() error {
			return metrics.Serve(ctx, config.Metrics.Addr, logger.Logger)
		}, nil)
	}

	svc := assistant.New(assistant.Options{
		Store:       database,
		NewProvider: assistant.OpenAIFactory(config.OpenAI),
		Metrics:     m,
		Logger:      logger.Logger,
	})

	app := ui.NewApp(config, actualConfigPath, database, svc, logger)
	defer app.Cleanup()

	app.Run()
	logger.Info().Msg("deskchat stopped")
	return 0
}

// seedSettings stores OPENAI_API_KEY on first start so a fresh install can
// chat without visiting the settings tab.
func seedSettings(ctx context.Context, database *db.DB, logger *utils.Logger) {
	key := utils.EnvAPIKey()
	if key == "" {
		return
	}
	has, err := database.HasSettings(ctx)
	if err != nil || has {
		return
	}
	settings := db.DefaultSettings()
	settings.APIKey = key
	if err := database.SaveSettings(ctx, settings); err != nil {
		logger.Warn().Err(err).Msg("OPENAI_API_KEY was not saved")
		return
	}
	logger.Info().Msg("API key seeded from environment")
}

func exportChat(ctx context.Context, database *db.DB, chatID int64, format utils.ExportFormat, out string) error {
	if format != utils.FormatJSON && format != utils.FormatMarkdown {
		return fmt.Errorf("unknown export format %q", format)
	}
	if out == "" {
		chat, err := database.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		dir, err := utils.GetDefaultExportPath()
		if err != nil {
			return err
		}
		out = filepath.Join(dir, utils.GenerateExportFilename(chat.Title, format))
	}
	if err := utils.ExportChat(ctx, database, chatID, format, out); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
