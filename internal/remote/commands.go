package remote

import (
	"context"

	"github.com/skobkin/mediaremote/internal/protocol"
)

func (c *Controller) RequestStatus(ctx context.Context) error {
	return c.SendCommand(ctx, protocol.GetStatus{})
}

func (c *Controller) TogglePause(ctx context.Context) error {
	return c.SendCommand(ctx, protocol.TogglePause{})
}

func (c *Controller) Seek(ctx context.Context, position float64) error {
	if position < 0 {
		position = 0
	}

	return c.SendCommand(ctx, protocol.Seek{Position: position})
}

// SkipForward skips by seconds, DefaultSkipAmount when seconds is not positive.
func (c *Controller) SkipForward(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		seconds = DefaultSkipAmount
	}

	return c.SendCommand(ctx, protocol.SkipForward{Amount: seconds})
}

func (c *Controller) SkipBackward(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		seconds = DefaultSkipAmount
	}

	return c.SendCommand(ctx, protocol.SkipBackward{Amount: seconds})
}

// SetVolume sends volume clamped to 0-100.
func (c *Controller) SetVolume(ctx context.Context, volume float64) error {
	return c.SendCommand(ctx, protocol.SetVolume{Volume: ClampVolume(volume)})
}

// VolumeUp raises the current volume by one step.
func (c *Controller) VolumeUp(ctx context.Context) error {
	return c.SetVolume(ctx, c.CurrentStatus().Volume+VolumeStep)
}

func (c *Controller) VolumeDown(ctx context.Context) error {
	return c.SetVolume(ctx, c.CurrentStatus().Volume-VolumeStep)
}

func (c *Controller) ToggleMute(ctx context.Context) error {
	return c.SendCommand(ctx, protocol.ToggleMute{})
}

func (c *Controller) ToggleFullscreen(ctx context.Context) error {
	return c.SendCommand(ctx, protocol.ToggleFullscreen{})
}

func ClampVolume(volume float64) float64 {
	switch {
	case volume < MinVolume:
		return MinVolume
	case volume > MaxVolume:
		return MaxVolume
	default:
		return volume
	}
}
