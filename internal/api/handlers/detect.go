package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/vesselwatch/internal/config"
	"github.com/your-org/vesselwatch/pkg/dto"
)

// Enqueuer schedules a video file for detection and returns the job id.
type Enqueuer interface {
	EnqueueProcessFile(ctx context.Context, filePath string) (string, error)
}

type DetectHandler struct {
	queue  Enqueuer
	upload config.UploadConfig
}

func NewDetectHandler(queue Enqueuer, upload config.UploadConfig) *DetectHandler {
	return &DetectHandler{queue: queue, upload: upload}
}

// Detect enqueues a file that is already on the shared volume.
func (h *DetectHandler) Detect(c *gin.Context) {
	var req dto.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_path is required"})
		return
	}
	path := strings.TrimSpace(req.FilePath)
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_path is required"})
		return
	}

	jobID, err := h.queue.EnqueueProcessFile(c.Request.Context(), path)
	if err != nil {
		slog.Error("enqueue detection", "file", path, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}

	slog.Info("detection enqueued", "file", path, "job_id", jobID)
	c.JSON(http.StatusAccepted, dto.DetectResponse{Message: "Detection started", JobID: jobID})
}

// Upload stores a multipart "file" in the upload directory and enqueues it.
// Existing files are never overwritten.
func (h *DetectHandler) Upload(c *gin.Context) {
	if h.upload.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.upload.MaxBytes)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}

	name := filepath.Base(fh.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filename is empty"})
		return
	}

	if err := os.MkdirAll(h.upload.Dir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	dest, err := filepath.Abs(filepath.Join(h.upload.Dir, name))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	err = saveExclusive(src, dest)
	src.Close()
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			c.JSON(http.StatusConflict, gin.H{"error": "file already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// When the upload dir is also watched, the watcher submits the same file
	// too. Both jobs resolve to one video id and the later one is skipped.
	jobID, err := h.queue.EnqueueProcessFile(c.Request.Context(), dest)
	if err != nil {
		slog.Error("enqueue upload", "file", dest, "error", err)
		// Remove the file so the client can retry the same upload.
		_ = os.Remove(dest)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to enqueue job"})
		return
	}

	slog.Info("upload enqueued", "file", dest, "size", fh.Size, "job_id", jobID)
	c.JSON(http.StatusAccepted, dto.UploadResponse{
		Message:  "Detection started",
		JobID:    jobID,
		Filename: name,
	})
}

// partName is the hidden name an upload is written under. It never ends in
// the watched suffix, so the directory watcher only sees the final name.
func partName(dest string) string {
	return filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".part")
}

// saveExclusive writes src to a hidden part file next to dest and links it
// into place once complete. It fails with os.ErrExist if dest is taken.
func saveExclusive(src io.Reader, dest string) error {
	if _, err := os.Lstat(dest); err == nil {
		return fmt.Errorf("%s: %w", dest, os.ErrExist)
	}

	tmp := partName(dest)
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		// Another upload of the same name is in progress.
		return err
	}
	defer os.Remove(tmp)

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write upload: %w", err)
	}

	// Link refuses an existing dest, unlike Rename.
	if err := os.Link(tmp, dest); err != nil {
		return err
	}
	return nil
}
