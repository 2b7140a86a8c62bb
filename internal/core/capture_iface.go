package core

import (
	"context"

	"github.com/dkeye/meet/internal/domain"
)

type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	SetEnabled(bool)
	Enabled() bool
	Stop()
}

// LocalTracks holds whatever the device could provide; either may be nil.
type LocalTracks struct {
	Audio LocalTrack
	Video LocalTrack
}

func (t LocalTracks) Empty() bool { return t.Audio == nil && t.Video == nil }

func (t LocalTracks) Stop() {
	if t.Audio != nil {
		t.Audio.Stop()
	}
	if t.Video != nil {
		t.Video.Stop()
	}
}

type CaptureConstraints struct {
	Audio bool
	Video bool
}

// CaptureProvider acquires local media. A missing device is not an error;
// a refused permission is ErrPermissionDenied.
type CaptureProvider interface {
	AcquireLocalTracks(ctx context.Context, c CaptureConstraints) (LocalTracks, error)
}
