package rangering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go-rangering/database"
)

var (
	// ErrInvalidRingID is returned when the ringID contains invalid characters
	ErrInvalidRingID = errors.New("ringID must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// validRingIDPattern validates PostgreSQL-safe identifiers
	validRingIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateRingID checks if the ringID is valid for use as a PostgreSQL identifier.
func ValidateRingID(ringID string) error {
	if ringID == "" {
		return errors.New("ringID cannot be empty")
	}

	if len(ringID) > 63 {
		return errors.New("ringID must be 63 characters or less")
	}

	if !validRingIDPattern.MatchString(ringID) {
		return ErrInvalidRingID
	}

	return nil
}

// PersistentStore is a MemoryStore that writes through to PostgreSQL.
// Queries are answered from memory; the database is the index shared with
// other processes and the copy that survives restarts.
type PersistentStore struct {
	mu      sync.Mutex // orders database writes with their memory updates
	ringID  string
	queries *database.Queries
	mem     *MemoryStore
}

// OpenPersistentStore migrates the schema for ringID and loads its records.
// The ringID must be a valid PostgreSQL identifier (lowercase letters, numbers, underscores, starting with a letter).
func OpenPersistentStore(ctx context.Context, db *sql.DB, ringID string) (*PersistentStore, error) {
	// Validate ringID before using it in database operations
	if err := ValidateRingID(ringID); err != nil {
		return nil, fmt.Errorf("invalid ringID: %w", err)
	}

	if err := database.Migrate(db, ringID); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var p = &PersistentStore{
		ringID:  ringID,
		queries: database.NewQueries(db, ringID),
		mem:     NewMemoryStore(),
	}
	if err := p.Refresh(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// Put implements SegmentStore.
func (p *PersistentStore) Put(ctx context.Context, s Segment) error {
	var seg, err = normalize(s)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.queries.SetSegment(ctx, toRecord(p.ringID, seg)); err != nil {
		return fmt.Errorf("failed to persist segment of %s: %w", seg.Owner, err)
	}
	return p.mem.Put(ctx, seg)
}

// RemoveOwner implements SegmentStore.
func (p *PersistentStore) RemoveOwner(ctx context.Context, owner PeerID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.queries.DeleteOwner(ctx, p.ringID, string(owner)); err != nil {
		return fmt.Errorf("failed to delete segments of %s: %w", owner, err)
	}
	return p.mem.RemoveOwner(ctx, owner)
}

// Prune implements SegmentStore. Records are dropped from memory first; if the
// database delete fails they come back on the next refresh and are pruned again.
func (p *PersistentStore) Prune(ctx context.Context, before time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mem.mu.Lock()
	var removed = p.mem.prune(before)
	if len(removed) > 0 {
		p.mem.publish()
	}
	p.mem.mu.Unlock()

	if err := p.queries.DeleteSegments(ctx, p.ringID, removed); err != nil {
		return 0, fmt.Errorf("failed to delete pruned segments: %w", err)
	}
	return len(removed), nil
}

// Snapshot implements SegmentStore.
func (p *PersistentStore) Snapshot() *Snapshot {
	return p.mem.Snapshot()
}

// Refresh replaces the memory view with the records in the database.
func (p *PersistentStore) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var records, err = p.queries.ListSegments(ctx, p.ringID)
	if err != nil {
		return fmt.Errorf("failed to list segments: %w", err)
	}

	var segments = make([]Segment, 0, len(records))
	for _, record := range records {
		if record.Offset < 0 || uint64(record.Offset) > DomainMax || record.Width < 0 {
			continue
		}
		var seg, err = normalize(fromRecord(record))
		if err != nil {
			// another writer stored something we cannot use
			continue
		}
		segments = append(segments, seg)
	}

	p.mem.load(segments)
	return nil
}

// TableSize reports the bytes used by the ring's segment table.
func (p *PersistentStore) TableSize(ctx context.Context) (uint64, error) {
	return p.queries.TableSize(ctx)
}

func toRecord(ringID string, s Segment) *database.SegmentRecord {
	return &database.SegmentRecord{
		RingID:    ringID,
		ID:        s.ID,
		Owner:     string(s.Owner),
		Offset:    int64(s.Offset),
		Width:     int64(s.Length),
		CreatedAt: s.CreatedAt,
		Seq:       int64(s.Seq),
		Mode:      int16(s.Mode),
	}
}

func fromRecord(r *database.SegmentRecord) Segment {
	return Segment{
		ID:        r.ID,
		Owner:     PeerID(r.Owner),
		Offset:    uint32(r.Offset),
		Length:    uint64(r.Width),
		CreatedAt: r.CreatedAt,
		Seq:       uint64(r.Seq),
		Mode:      Mode(r.Mode),
	}
}
