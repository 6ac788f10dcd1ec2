package main

import (
	"github.com/google/uuid"
)

type TrackKind string

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
)

type MediaTrack struct {
	ID       string
	StreamID string
	Kind     TrackKind
	Label    string
}

// MediaStream is the local payload source attached before offer generation.
// Its frames are synthetic, there is no capture device behind it.
type MediaStream struct {
	ID     string
	Tracks []MediaTrack
}

func NewMediaStream(audio bool) *MediaStream {
	ms := &MediaStream{ID: uuid.NewString()}
	ms.Tracks = append(ms.Tracks, MediaTrack{
		ID:       uuid.NewString(),
		StreamID: ms.ID,
		Kind:     TrackKindVideo,
		Label:    "synthetic video",
	})
	if audio {
		ms.Tracks = append(ms.Tracks, MediaTrack{
			ID:       uuid.NewString(),
			StreamID: ms.ID,
			Kind:     TrackKindAudio,
			Label:    "synthetic audio",
		})
	}
	return ms
}

func (ms *MediaStream) Track(kind TrackKind) (MediaTrack, bool) {
	for _, t := range ms.Tracks {
		if t.Kind == kind {
			return t, true
		}
	}
	return MediaTrack{}, false
}
