package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLIEngine shells out to the tesseract binary, feeding the PNG on stdin and
// reading the recognised text from stdout.
type CLIEngine struct {
	Path string
}

func NewCLIEngine(path string) *CLIEngine {
	if strings.TrimSpace(path) == "" {
		path = "tesseract"
	}
	return &CLIEngine{Path: path}
}

func (e *CLIEngine) Name() string { return "tesseract-cli" }

func (e *CLIEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	bin, err := exec.LookPath(e.Path)
	if err != nil {
		return "", fmt.Errorf("engine unavailable: %w", err)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(png)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s exited %d: %s", e.Path, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", err
	}
	return string(out), nil
}
