package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toricodesthings/image-ocr-service/internal/extract"
	"github.com/toricodesthings/image-ocr-service/internal/format"
)

var showStats bool

var extractCmd = &cobra.Command{
	Use:   "extract <image>...",
	Short: "Run OCR on local image files",
	Long: `Runs the same preprocessing and OCR pipeline as the HTTP server on local
files and prints the combined text. At most 10 files per run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		files := make([]extract.File, 0, len(args))
		for _, path := range args {
			files = append(files, extract.LocalFile(path))
		}

		blocks, err := extract.New(newEngine(cfg), log).ProcessBlocks(context.Background(), files)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if showStats {
			for _, b := range blocks {
				fmt.Fprintf(out, "%s\twords=%d\tquality=%.2f\tsuspect=%t\n",
					b.Filename, b.Quality.WordCount, b.Quality.Quality, b.Quality.Suspect)
			}
			return nil
		}

		texts := make([]string, len(blocks))
		for i, b := range blocks {
			texts[i] = b.Text
		}
		fmt.Fprintln(out, format.Combine(texts, format.BlockSeparator))
		return nil
	},
}

func init() {
	extractCmd.Flags().BoolVar(&showStats, "stats", false, "print per-file word count and quality instead of text")
	rootCmd.AddCommand(extractCmd)
}
