package batch

import (
	"image"
)

type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// File is one upload: its display name and encoded bytes.
type File struct {
	Name string
	Data []byte
}

// Item is one uploaded image and its segmentation state. Values returned by
// the orchestrator are copies; the rasters are shared and read-only.
type Item struct {
	ID       string
	Name     string
	Hash     string
	Status   Status
	Progress int
	Err      error

	Original image.Image
	Subject  image.Image

	// ObjectURL resolves to Subject through the orchestrator's URL registry
	// until the batch is reset.
	ObjectURL string

	// remote copies, set when an Uploader is configured
	OriginalURL string
	SubjectURL  string
}

type EventKind int

const (
	EventCompleted EventKind = iota
	EventSegmentFailed
	EventUploadFailed
)

func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventSegmentFailed:
		return "segment_failed"
	case EventUploadFailed:
		return "upload_failed"
	}
	return "unknown"
}

// Event is a user-visible notification about one item.
type Event struct {
	Kind   EventKind
	ItemID string
	Name   string
	Err    error
}

// Notifier receives events from worker goroutines. It must not call back into
// the orchestrator synchronously.
type Notifier func(Event)
