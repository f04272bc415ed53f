package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/dunamismax/imagecpr/internal/domain"
	"go.uber.org/zap"
)

const (
	partImage     = "image"
	partConfig    = "config"
	partWatermark = "watermark"
)

var (
	errMissingPart   = errors.New("missing multipart part")
	errInvalidConfig = errors.New("invalid config JSON")
)

// handleProcess runs the pipeline synchronously. The request is multipart
// with an "image" file, a "config" JSON document and, optionally, a
// "watermark" file that fills watermark.content.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart/form-data body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	input, err := filePart(r.MultipartForm, partImage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := configFromForm(r.MultipartForm)
	if err != nil {
		writeProcessError(w, err)
		return
	}

	res, err := s.processor.Process(r.Context(), input, cfg)
	s.metrics.observeTransform(len(input), len(res.Data), err)
	if err != nil {
		s.logger.Info("process request failed",
			zap.String("kind", domain.ErrorKind(err)),
			zap.Error(err),
		)
		writeProcessError(w, err)
		return
	}

	w.Header().Set("Content-Type", res.Format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Image-Width", strconv.Itoa(res.Width))
	w.Header().Set("X-Image-Height", strconv.Itoa(res.Height))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func configFromForm(form *multipart.Form) (domain.Config, error) {
	var rawJSON []byte
	if values := form.Value[partConfig]; len(values) > 0 {
		rawJSON = []byte(values[0])
	} else {
		data, err := filePart(form, partConfig)
		if err != nil {
			return domain.Config{}, err
		}
		rawJSON = data
	}

	decoder := json.NewDecoder(bytes.NewReader(rawJSON))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return domain.Config{}, fmt.Errorf("%w: %w", errInvalidConfig, err)
	}

	if _, ok := form.File[partWatermark]; ok {
		content, err := filePart(form, partWatermark)
		if err != nil {
			return domain.Config{}, err
		}
		obj, _ := raw.(map[string]any)
		wm, ok := obj["watermark"].(map[string]any)
		if !ok {
			return domain.Config{}, fmt.Errorf("%w: watermark part requires a watermark object in config", domain.ErrInvalidParameter)
		}
		if _, set := wm["content"]; set {
			return domain.Config{}, fmt.Errorf("%w: watermark.content given twice", domain.ErrInvalidParameter)
		}
		wm["content"] = content
	}

	return domain.ParseConfig(raw)
}

func filePart(form *multipart.Form, name string) ([]byte, error) {
	headers := form.File[name]
	if len(headers) == 0 {
		return nil, fmt.Errorf("%w: %q", errMissingPart, name)
	}

	f, err := headers[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s part: %w", name, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s part: %w", name, err)
	}
	return data, nil
}

// statusForError maps pipeline error kinds to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrInvalidParameter),
		errors.Is(err, domain.ErrCropOutOfBounds),
		errors.Is(err, domain.ErrWatermarkOutOfBounds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrEncode):
		return http.StatusInternalServerError
	case errors.Is(err, errMissingPart), errors.Is(err, errInvalidConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeProcessError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if kind := domain.ErrorKind(err); kind != "internal" {
		body["kind"] = kind
	}
	writeJSON(w, statusForError(err), body)
}
