package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/makeasinger/acestep-worker/internal/model"
	"go.uber.org/zap"
)

const downloadChunkSize = 8192

// ErrEmptyReference is returned when Materialize is called without an input
var ErrEmptyReference = errors.New("empty audio reference")

// Materializer resolves an audio reference (HTTP(S) URL or base64 payload,
// optionally behind a data-URI header) into a local temporary file
type Materializer struct {
	httpClient *http.Client
	tempDir    string
	logger     *zap.Logger
}

// NewMaterializer creates a materializer writing into tempDir ("" uses the OS default)
func NewMaterializer(httpClient *http.Client, tempDir string, logger *zap.Logger) *Materializer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		httpClient: httpClient,
		tempDir:    tempDir,
		logger:     logger,
	}
}

// Materialize writes the referenced audio to a fresh temp file owned by jobID.
// Every call allocates a new file; on failure the file is removed before returning.
func (m *Materializer) Materialize(ctx context.Context, jobID, ref string) (*model.MaterializedResource, error) {
	if ref == "" {
		return nil, ErrEmptyReference
	}

	f, err := os.CreateTemp(m.tempDir, "input-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()

	kind := model.SourceKindInline
	if isRemoteReference(ref) {
		kind = model.SourceKindURL
		m.logger.Info("downloading audio input", zap.String("job_id", jobID), zap.String("url", ref))
		err = m.download(ctx, ref, f)
	} else {
		err = decodeInline(ref, f)
	}

	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			m.logger.Warn("failed to remove temp file", zap.String("path", path), zap.Error(removeErr))
		}
		return nil, err
	}

	return &model.MaterializedResource{
		Path:  path,
		JobID: jobID,
		Kind:  kind,
	}, nil
}

func isRemoteReference(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func (m *Materializer) download(ctx context.Context, url string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download audio: status %d", resp.StatusCode)
	}

	if _, err := io.CopyBuffer(w, resp.Body, make([]byte, downloadChunkSize)); err != nil {
		return fmt.Errorf("failed to download audio: %w", err)
	}
	return nil
}

// decodeInline strips everything through the first comma (a data-URI header)
// and base64-decodes the rest
func decodeInline(ref string, w io.Writer) error {
	if i := strings.IndexByte(ref, ','); i >= 0 {
		ref = ref[i+1:]
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ref))
	if err != nil {
		return fmt.Errorf("failed to decode audio payload: %w", err)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write decoded audio: %w", err)
	}
	return nil
}
