package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/toricodesthings/image-ocr-service/internal/format"
	"github.com/toricodesthings/image-ocr-service/internal/ocr"
	"github.com/toricodesthings/image-ocr-service/internal/preprocess"
	"github.com/toricodesthings/image-ocr-service/internal/quality"
)

// MaxFiles is the per-request upload cap.
const MaxFiles = 10

var (
	ErrMissingFiles    = errors.New("missing files")
	ErrNoFilesPart     = fmt.Errorf("%w: no files part", ErrMissingFiles)
	ErrNoFilesSelected = fmt.Errorf("%w: no files selected", ErrMissingFiles)
	ErrTooManyFiles    = fmt.Errorf("too many files: maximum is %d", MaxFiles)
)

// File is one uploaded image. Open is called once, in upload order.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// LocalFile reads an image from disk.
func LocalFile(path string) File {
	return File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// FileError aborts a request on behalf of a single file.
type FileError struct {
	Filename string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("Error processing file: %s, %v", e.Filename, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Block is the recognised text of one file.
type Block struct {
	Filename string
	Text     string
	Quality  quality.Decision
}

type Processor struct {
	engine ocr.Engine
	log    logrus.FieldLogger
}

func New(engine ocr.Engine, log logrus.FieldLogger) *Processor {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Processor{engine: engine, log: log}
}

func ValidateCount(n int) error {
	switch {
	case n == 0:
		return ErrNoFilesSelected
	case n > MaxFiles:
		return ErrTooManyFiles
	}
	return nil
}

// Process runs every file through decode, preprocess and OCR and joins the
// results with a blank line, preserving upload order.
func (p *Processor) Process(ctx context.Context, files []File) (string, error) {
	blocks, err := p.ProcessBlocks(ctx, files)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = b.Text
	}
	return format.Combine(texts, format.BlockSeparator), nil
}

// ProcessBlocks is Process without the final join. The first failing file
// aborts the whole batch and no partial output is returned.
func (p *Processor) ProcessBlocks(ctx context.Context, files []File) ([]Block, error) {
	if err := ValidateCount(len(files)); err != nil {
		return nil, err
	}

	out := make([]Block, 0, len(files))
	for i, f := range files {
		text, err := p.processOne(ctx, f)
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"file":  f.Name,
				"index": i,
			}).WithError(err).Warn("file processing failed")
			return nil, &FileError{Filename: f.Name, Err: err}
		}

		d := quality.Score(text)
		p.log.WithFields(logrus.Fields{
			"file":    f.Name,
			"index":   i,
			"words":   d.WordCount,
			"quality": d.Quality,
			"suspect": d.Suspect,
		}).Debug("file processed")

		out = append(out, Block{Filename: f.Name, Text: text, Quality: d})
	}
	return out, nil
}

func (p *Processor) processOne(ctx context.Context, f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	img, err := preprocess.Decode(rc)
	if err != nil {
		return "", err
	}

	return ocr.Extract(ctx, p.engine, preprocess.Apply(img))
}
