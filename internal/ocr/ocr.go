package ocr

import (
	"context"
	"fmt"
	"image"
	"regexp"
	"strings"

	"github.com/toricodesthings/image-ocr-service/internal/preprocess"
)

// Engine recognises text in a PNG-encoded image. Implementations must be safe
// for concurrent use; each call is independent.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, png []byte) (string, error)
}

// EngineError reports that the OCR engine could not process an image.
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("ocr engine %s: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Extract encodes img as PNG and runs it through engine. An image without
// recognisable text yields "" and a nil error.
func Extract(ctx context.Context, engine Engine, img image.Image) (string, error) {
	data, err := preprocess.EncodePNG(img)
	if err != nil {
		return "", &EngineError{Engine: engine.Name(), Err: err}
	}

	text, err := engine.Recognize(ctx, data)
	if err != nil {
		return "", &EngineError{Engine: engine.Name(), Err: err}
	}
	return CleanText(text), nil
}

var (
	zeroWidthChars    = regexp.MustCompile("[\u200B-\u200D\uFEFF\u00AD\u2060]")
	excessiveNewlines = regexp.MustCompile(`\n{4,}`)
	trailingSpaces    = regexp.MustCompile(`(?m)[ \t]+$`)
)

// CleanText applies light-touch cleaning to raw engine output:
//   - strips zero-width / invisible unicode characters and form feeds
//   - normalises line endings and trailing whitespace
//   - collapses runs of blank lines
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = zeroWidthChars.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\f", "")

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = trailingSpaces.ReplaceAllString(text, "")
	text = excessiveNewlines.ReplaceAllString(text, "\n\n\n")

	return strings.TrimSpace(text)
}
