package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/toricodesthings/image-ocr-service/internal/config"
	"github.com/toricodesthings/image-ocr-service/internal/ocr"
	"github.com/toricodesthings/image-ocr-service/internal/ocr/tesseract"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "imgocr",
	Short: "Image OCR service",
	Long: `imgocr extracts text from uploaded images with Tesseract and can relay
the result to a summarization webhook.

Run without a subcommand to start the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.Flags().AddFlagSet(serveFlags())
}

// loadConfig reads and validates configuration for any subcommand.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		log.WithField("log_level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func newEngine(cfg config.Config) ocr.Engine {
	if cfg.OCREngine == "cli" {
		return ocr.NewCLIEngine(cfg.TesseractPath)
	}
	return tesseract.New()
}
