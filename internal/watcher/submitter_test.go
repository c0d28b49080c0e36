package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const submitURL = "http://api.local/v1/detect"

func newMockedSubmitter(t *testing.T) *HTTPSubmitter {
	t.Helper()
	s := NewHTTPSubmitter(submitURL, time.Second)
	httpmock.ActivateNonDefault(s.Client)
	t.Cleanup(func() { httpmock.DeactivateAndReset() })
	return s
}

func TestHTTPSubmitterPostsFilePath(t *testing.T) {
	s := newMockedSubmitter(t)

	var got map[string]string
	httpmock.RegisterResponder(http.MethodPost, submitURL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			return nil, err
		}
		return httpmock.NewStringResponse(http.StatusAccepted, `{"message":"Detection started","job_id":"x"}`), nil
	})

	require.NoError(t, s.Submit(context.Background(), "/videos/a.mp4"))
	assert.Equal(t, map[string]string{"file_path": "/videos/a.mp4"}, got)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestHTTPSubmitterNon2xx(t *testing.T) {
	s := newMockedSubmitter(t)
	httpmock.RegisterResponder(http.MethodPost, submitURL,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "queue down"))

	err := s.Submit(context.Background(), "/videos/a.mp4")
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "queue down", se.Body)
	assert.Equal(t, "/videos/a.mp4", se.Path)
}

func TestHTTPSubmitterTransportError(t *testing.T) {
	s := newMockedSubmitter(t)
	boom := errors.New("connection refused")
	httpmock.RegisterResponder(http.MethodPost, submitURL, httpmock.NewErrorResponder(boom))

	err := s.Submit(context.Background(), "/videos/a.mp4")
	var se *SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, se.StatusCode)
	assert.ErrorIs(t, err, boom)
}
