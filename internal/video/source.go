package video

import (
	"context"
	"image"
)

// Source opens a video file as a sequence of decoded frames.
type Source interface {
	Open(ctx context.Context, path string) (Frames, error)
}

// Frames yields frames in order. Next returns io.EOF after the last frame.
type Frames interface {
	// Count is the total number of frames, 0 when unknown or unreadable.
	Count() int
	// FPS is the frame rate, 0 when unknown.
	FPS() float64
	Next() (image.Image, error)
	Close() error
}
