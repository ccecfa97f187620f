package pageagent

import (
	"context"

	"github.com/uiforensics/elementcap/internal/extract"
	"github.com/uiforensics/elementcap/internal/protocol"
)

// DocEventKind discriminates document events delivered by a driver.
type DocEventKind int

const (
	// EventHover fires when the hovered element changes while armed.
	EventHover DocEventKind = iota
	// EventConfirm fires when the user picks an element. Element and Page
	// carry the facts gathered synchronously at click time.
	EventConfirm
	// EventCancel fires on Escape.
	EventCancel
)

// DocEvent is a single event coming out of the document.
type DocEvent struct {
	Kind    DocEventKind
	Rect    protocol.Rect
	Element *extract.ElementFacts
	Page    *extract.PageFacts
}

// DocumentDriver abstracts the page side of selection mode. The CDP driver
// is the real one; tests plug in a fake.
type DocumentDriver interface {
	// Arm injects the overlay, cursor override and event listeners.
	// Arming an already armed document is harmless.
	Arm(ctx context.Context) error

	// Disarm removes everything Arm installed. Never fails on an
	// already clean document.
	Disarm(ctx context.Context) error

	// Events delivers hover, confirm and cancel events. The channel
	// stays open for the driver's lifetime.
	Events() <-chan DocEvent

	// Close releases the driver's protocol resources.
	Close() error
}
