package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/your-org/vesselwatch/internal/models"
)

// SubmissionError reports a file that could not be handed to the task queue.
// StatusCode is zero for transport errors.
type SubmissionError struct {
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("submit %s: status %d: %s", e.Path, e.StatusCode, e.Body)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// HTTPSubmitter posts {"file_path": ...} to the API's detect endpoint.
type HTTPSubmitter struct {
	URL    string
	Client *http.Client
}

func NewHTTPSubmitter(url string, timeout time.Duration) *HTTPSubmitter {
	return &HTTPSubmitter{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSubmitter) Submit(ctx context.Context, path string) error {
	body, err := json.Marshal(models.ProcessFileJob{FilePath: path})
	if err != nil {
		return &SubmissionError{Path: path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return &SubmissionError{Path: path, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return &SubmissionError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SubmissionError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
