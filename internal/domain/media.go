package domain

import (
	"fmt"
	"time"
)

// MediaStatus is the latest playback snapshot pushed by the server.
type MediaStatus struct {
	Paused   bool    `json:"paused"`
	TimePos  float64 `json:"timePos"`
	Duration float64 `json:"duration"`
	Progress float64 `json:"progress"`
	HasMedia bool    `json:"hasMedia"`

	Filename   string `json:"filename"`
	Title      string `json:"title"`
	FileFormat string `json:"fileFormat"`

	VideoCodec   string  `json:"videoCodec"`
	VideoWidth   int     `json:"videoWidth"`
	VideoHeight  int     `json:"videoHeight"`
	VideoBitrate int64   `json:"videoBitrate"`
	FPS          float64 `json:"fps"`

	AudioCodec   string `json:"audioCodec"`
	AudioBitrate int64  `json:"audioBitrate"`

	Fullscreen bool    `json:"fullscreen"`
	Volume     float64 `json:"volume"`
	Muted      bool    `json:"muted"`
	Speed      float64 `json:"speed"`

	TimeFormatted     string `json:"timeFormatted"`
	DurationFormatted string `json:"durationFormatted"`

	// Timestamp is the server-side snapshot time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`

	ReceivedAt time.Time `json:"-"`
}

// EmptyMediaStatus is the "no media" snapshot used before the first server push.
func EmptyMediaStatus() MediaStatus {
	return MediaStatus{
		Paused:            true,
		Filename:          "No media",
		Title:             "No media",
		Volume:            100,
		Speed:             1.0,
		TimeFormatted:     "0:00",
		DurationFormatted: "0:00",
	}
}

// MediaStatusPatch is a partial status update; nil fields keep their previous value.
type MediaStatusPatch struct {
	Paused   *bool    `json:"paused,omitempty"`
	TimePos  *float64 `json:"timePos,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	HasMedia *bool    `json:"hasMedia,omitempty"`

	Filename   *string `json:"filename,omitempty"`
	Title      *string `json:"title,omitempty"`
	FileFormat *string `json:"fileFormat,omitempty"`

	VideoCodec   *string  `json:"videoCodec,omitempty"`
	VideoWidth   *int     `json:"videoWidth,omitempty"`
	VideoHeight  *int     `json:"videoHeight,omitempty"`
	VideoBitrate *int64   `json:"videoBitrate,omitempty"`
	FPS          *float64 `json:"fps,omitempty"`

	AudioCodec   *string `json:"audioCodec,omitempty"`
	AudioBitrate *int64  `json:"audioBitrate,omitempty"`

	Fullscreen *bool    `json:"fullscreen,omitempty"`
	Volume     *float64 `json:"volume,omitempty"`
	Muted      *bool    `json:"muted,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`

	TimeFormatted     *string `json:"timeFormatted,omitempty"`
	DurationFormatted *string `json:"durationFormatted,omitempty"`

	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Merge applies the set fields of patch on top of s and stamps the arrival time.
func (s MediaStatus) Merge(patch MediaStatusPatch, at time.Time) MediaStatus {
	mergeValue(&s.Paused, patch.Paused)
	mergeValue(&s.TimePos, patch.TimePos)
	mergeValue(&s.Duration, patch.Duration)
	mergeValue(&s.Progress, patch.Progress)
	mergeValue(&s.HasMedia, patch.HasMedia)
	mergeValue(&s.Filename, patch.Filename)
	mergeValue(&s.Title, patch.Title)
	mergeValue(&s.FileFormat, patch.FileFormat)
	mergeValue(&s.VideoCodec, patch.VideoCodec)
	mergeValue(&s.VideoWidth, patch.VideoWidth)
	mergeValue(&s.VideoHeight, patch.VideoHeight)
	mergeValue(&s.VideoBitrate, patch.VideoBitrate)
	mergeValue(&s.FPS, patch.FPS)
	mergeValue(&s.AudioCodec, patch.AudioCodec)
	mergeValue(&s.AudioBitrate, patch.AudioBitrate)
	mergeValue(&s.Fullscreen, patch.Fullscreen)
	mergeValue(&s.Volume, patch.Volume)
	mergeValue(&s.Muted, patch.Muted)
	mergeValue(&s.Speed, patch.Speed)
	mergeValue(&s.TimeFormatted, patch.TimeFormatted)
	mergeValue(&s.DurationFormatted, patch.DurationFormatted)
	mergeValue(&s.Timestamp, patch.Timestamp)
	if !at.IsZero() {
		s.ReceivedAt = at
	}

	return s
}

// IsEmpty reports whether the patch carries no fields.
func (p MediaStatusPatch) IsEmpty() bool {
	return p == MediaStatusPatch{}
}

func mergeValue[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// FormatClock renders seconds as M:SS or H:MM:SS.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}

	return fmt.Sprintf("%d:%02d", m, sec)
}
