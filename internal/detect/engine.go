package detect

import (
	"context"
	"image"

	"github.com/your-org/vesselwatch/internal/models"
)

// Engine creates detection sessions. Tracker state lives in the session, so
// track ids are stable within one video run and never shared across runs.
type Engine interface {
	NewSession() (Session, error)
}

// Session runs detection and tracking over the frames of one video, in order.
type Session interface {
	Detect(ctx context.Context, frame image.Image) ([]models.Detection, error)
	Close()
}
