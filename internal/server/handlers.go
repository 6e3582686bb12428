package server

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"runtime"

	"github.com/toricodesthings/image-ocr-service/internal/extract"
	"github.com/toricodesthings/image-ocr-service/internal/summarize"
	"github.com/toricodesthings/image-ocr-service/internal/types"
)

const (
	indexFile       = "index.html"
	multipartMemory = 32 << 20
	filesField      = "files"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.StaticDir, indexFile))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, active, _ := s.metrics.get()
	status := "healthy"
	code := http.StatusOK

	ratio := s.cfg.HealthDegradeRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.9
	}

	if active >= int64(float64(s.cfg.MaxConcurrentRequests)*ratio) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, types.HealthResponse{
		Status:  status,
		Active:  active,
		Engine:  s.engineName,
		Version: version,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active, files := s.metrics.get()

	writeJSON(w, http.StatusOK, types.MetricsResponse{
		ActiveRequests: active,
		TotalRequests:  total,
		FilesProcessed: files,
		Goroutines:     runtime.NumGoroutine(),
		MemAllocMB:     m.Alloc / (1 << 20),
		MemSysMB:       m.Sys / (1 << 20),
	})
}

func (s *Server) handleProcessImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	files, err := s.uploadedFiles(r)
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeErr(w, http.StatusRequestEntityTooLarge, "too_large", "Upload exceeds size limit")
		case errors.Is(err, extract.ErrMissingFiles), errors.Is(err, extract.ErrTooManyFiles):
			writeUploadErr(w, err)
		default:
			writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		}
		return
	}

	// OCR runs to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())

	text, err := s.processor.Process(ctx, files)
	if err != nil {
		writeUploadErr(w, err)
		return
	}
	s.metrics.addFiles(len(files))

	writeJSON(w, http.StatusOK, types.ExtractResponse{ExtractedText: text})
}

// uploadedFiles distinguishes a request without a files field from one whose
// files field carries no file (browsers send an empty, filename-less part).
func (s *Server) uploadedFiles(r *http.Request) ([]extract.File, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, extract.ErrNoFilesPart
		}
		return nil, err
	}

	headers, ok := r.MultipartForm.File[filesField]
	if !ok {
		if _, present := r.MultipartForm.Value[filesField]; present {
			return nil, extract.ErrNoFilesSelected
		}
		return nil, extract.ErrNoFilesPart
	}
	if err := extract.ValidateCount(len(headers)); err != nil {
		return nil, err
	}

	files := make([]extract.File, 0, len(headers))
	for _, fh := range headers {
		files = append(files, extract.File{
			Name: fh.Filename,
			Open: openHeader(fh),
		})
	}
	return files, nil
}

func openHeader(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) { return fh.Open() }
}

func writeUploadErr(w http.ResponseWriter, err error) {
	var fileErr *extract.FileError
	switch {
	case errors.Is(err, extract.ErrNoFilesPart):
		writeErr(w, http.StatusBadRequest, "missing_files", "No files part")
	case errors.Is(err, extract.ErrNoFilesSelected):
		writeErr(w, http.StatusBadRequest, "missing_files", "No files selected")
	case errors.Is(err, extract.ErrTooManyFiles):
		writeErr(w, http.StatusBadRequest, "too_many_files", "You can upload a maximum of 10 images")
	case errors.As(err, &fileErr):
		writeErr(w, http.StatusInternalServerError, "processing_failed", fileErr.Error())
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleSendToMake(w http.ResponseWriter, r *http.Request) {
	req, err := parseJSON[types.SummaryRequest](r, s.cfg.MaxJSONBodyBytes)
	if err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "bad_request", sanitizeError(err))
		return
	}

	summary, err := s.summarizer.Forward(r.Context(), req.Text)
	if err != nil {
		var fwdErr *summarize.ForwardingError
		switch {
		case errors.Is(err, summarize.ErrEmptyText):
			writeErr(w, http.StatusBadRequest, "empty_text", "No text provided")
		case errors.As(err, &fwdErr):
			s.log.WithError(err).Warn("webhook forwarding failed")
			writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
				Error:   "Failed to send to webhook",
				Details: fwdErr.Err.Error(),
				Code:    "forwarding_failed",
			})
		default:
			writeErr(w, http.StatusInternalServerError, "internal_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, types.SummaryResponse{Summary: summary})
}
