package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/toricodesthings/image-ocr-service/internal/summarize"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize [file|-]",
	Short: "Send text to the summarization webhook",
	Long:  `Reads text from a file (or stdin when the argument is "-" or omitted) and prints the webhook's summary.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var src io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		}

		text, err := io.ReadAll(io.LimitReader(src, cfg.MaxJSONBodyBytes))
		if err != nil {
			return fmt.Errorf("read text: %w", err)
		}

		summary, err := summarize.New(cfg.WebhookURL, cfg.WebhookTimeout).Forward(context.Background(), string(text))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}
