package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/toricodesthings/image-ocr-service/internal/server"
	"github.com/toricodesthings/image-ocr-service/internal/summarize"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().AddFlagSet(serveFlags())
	rootCmd.AddCommand(serveCmd)
}

func serveFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.StringVarP(&servePort, "port", "p", "", "listen port (overrides PORT)")
	return fs
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	log := newLogger(cfg)
	if cfg.WebhookURL == "" {
		log.Warn("WEBHOOK_URL not set (/send-to-make will fail)")
	}

	engine := newEngine(cfg)
	srv := server.New(cfg, log, engine, summarize.New(cfg.WebhookURL, cfg.WebhookTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}
