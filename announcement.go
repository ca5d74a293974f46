package rangering

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spacemeshos/go-scale"
)

// maxOwnerLength bounds the encoded peer identity.
const maxOwnerLength = 256

// Announcement is the wire form of a segment record handed to and received
// from the gossip layer.
type Announcement struct {
	ID        uuid.UUID
	Owner     PeerID
	Offset    uint32
	Length    uint64
	CreatedAt time.Time
	Seq       uint64
	Mode      Mode
}

// announcementOf converts a stored segment for dissemination.
func announcementOf(s Segment) Announcement {
	return Announcement{
		ID:        s.ID,
		Owner:     s.Owner,
		Offset:    s.Offset,
		Length:    s.Length,
		CreatedAt: s.CreatedAt,
		Seq:       s.Seq,
		Mode:      s.Mode,
	}
}

// Segment converts the announcement back to a store record.
func (a Announcement) Segment() Segment {
	return Segment{
		ID:        a.ID,
		Owner:     a.Owner,
		Offset:    a.Offset,
		Length:    a.Length,
		CreatedAt: a.CreatedAt,
		Seq:       a.Seq,
		Mode:      a.Mode,
	}
}

// EncodeScale implements scale.Encodable.
func (a *Announcement) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, a.ID[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, []byte(a.Owner), maxOwnerLength)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeUint32(enc, a.Offset)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, a.Length)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(a.CreatedAt.UnixNano()))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, a.Seq)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByte(enc, byte(a.Mode))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (a *Announcement) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := scale.DecodeByteArray(dec, a.ID[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, maxOwnerLength)
		if err != nil {
			return total, err
		}
		total += n
		a.Owner = PeerID(field)
	}
	{
		field, n, err := scale.DecodeUint32(dec)
		if err != nil {
			return total, err
		}
		total += n
		a.Offset = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		a.Length = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		a.CreatedAt = time.Unix(0, int64(field)).UTC()
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		a.Seq = field
	}
	{
		field, n, err := scale.DecodeByte(dec)
		if err != nil {
			return total, err
		}
		total += n
		a.Mode = Mode(field)
	}
	return total, nil
}

// MarshalAnnouncement encodes a for the gossip layer.
func MarshalAnnouncement(a Announcement) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.EncodeScale(scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("failed to encode announcement: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalAnnouncement decodes a payload received from the gossip layer.
func UnmarshalAnnouncement(payload []byte) (Announcement, error) {
	var (
		a      Announcement
		reader = bytes.NewReader(payload)
	)
	if _, err := a.DecodeScale(scale.NewDecoder(reader)); err != nil {
		return Announcement{}, fmt.Errorf("failed to decode announcement: %w", err)
	}
	if reader.Len() != 0 {
		return Announcement{}, fmt.Errorf("failed to decode announcement: %d trailing bytes", reader.Len())
	}
	return a, nil
}

// Announcer receives the local peer's segment changes and is responsible for
// broadcasting them. It is implemented by the gossip layer.
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// AnnouncerFunc adapts a function to an Announcer.
type AnnouncerFunc func(ctx context.Context, a Announcement) error

func (f AnnouncerFunc) Announce(ctx context.Context, a Announcement) error {
	return f(ctx, a)
}

// ChannelAnnouncer delivers announcements on a buffered channel.
type ChannelAnnouncer struct {
	C chan Announcement
}

// NewChannelAnnouncer creates an announcer with the given buffer size.
func NewChannelAnnouncer(size int) *ChannelAnnouncer {
	return &ChannelAnnouncer{C: make(chan Announcement, size)}
}

// Announce blocks until the announcement is queued or ctx is done.
func (c *ChannelAnnouncer) Announce(ctx context.Context, a Announcement) error {
	select {
	case c.C <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopAnnouncer struct{}

func (nopAnnouncer) Announce(context.Context, Announcement) error { return nil }
