package caldav

import (
	"context"

	"github.com/emersion/go-ical"
)

// Calendar is a collection on the CalDAV server
type Calendar struct {
	Path        string
	DisplayName string
}

// Remote is the part of Client the publisher needs.
type Remote interface {
	ObjectPath(uid string) string
	Put(ctx context.Context, path string, cal *ical.Calendar) (string, error)
	Remove(ctx context.Context, path string) error
}

var _ Remote = (*Client)(nil)
