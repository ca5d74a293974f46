package database

import (
	"time"

	"github.com/google/uuid"
)

// SegmentRecord represents one segment announcement in the database.
type SegmentRecord struct {
	RingID    string
	ID        uuid.UUID
	Owner     string
	Offset    int64
	Width     int64
	CreatedAt time.Time
	Seq       int64
	Mode      int16
}
