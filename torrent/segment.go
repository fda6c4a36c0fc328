package torrent

import (
	"bytes"
	"fmt"

	"github.com/ndn-torrent/ntd/ndn"
)

// A Segment is one signed descriptor of the torrent-file chain. Its catalog
// names the first sub-manifest of each file it covers; Next points at the
// following segment's full name, nil on the last segment.
type Segment struct {
	name      ndn.Name
	segment   uint64
	catalog   []ndn.Name
	next      *ndn.Name
	signature []byte

	encoded  []byte
	fullName ndn.Name
}

type segmentWire struct {
	Name      string   `bencode:"name"`
	Segment   int64    `bencode:"segment"`
	Catalog   []string `bencode:"catalog"`
	Next      string   `bencode:"next"`
	Signature string   `bencode:"sig"`
}

// NewSegment constructs and signs a torrent-file segment.
func NewSegment(name ndn.Name, segment uint64, catalog []ndn.Name, next *ndn.Name) (*Segment, error) {
	if Classify(name) != EntitySegment {
		return nil, fmt.Errorf("name %v is not a torrent-file segment name", name)
	}
	s := &Segment{name: name, segment: segment, catalog: catalog, next: next}
	sig, err := contentSignature(s.wire(nil))
	if err != nil {
		return nil, err
	}
	s.signature = sig
	return s, s.seal()
}

// DecodeSegment decodes and signature-verifies a torrent-file segment.
func DecodeSegment(b []byte) (*Segment, error) {
	var w segmentWire
	if err := decodeWire(b, &w); err != nil {
		return nil, fmt.Errorf("failed to decode segment: %w", err)
	}
	name, err := ndn.ParseName(w.Name)
	if err != nil {
		return nil, fmt.Errorf("bad segment name: %w", err)
	} else if Classify(name) != EntitySegment {
		return nil, fmt.Errorf("name %v is not a torrent-file segment name", name)
	}
	catalog, err := stringsToNames(w.Catalog)
	if err != nil {
		return nil, fmt.Errorf("bad catalog entry: %w", err)
	}
	next, err := parseOptionalName(w.Next)
	if err != nil {
		return nil, fmt.Errorf("bad next pointer: %w", err)
	}
	s := &Segment{
		name:      name,
		segment:   uint64(w.Segment),
		catalog:   catalog,
		next:      next,
		signature: []byte(w.Signature),
	}
	expected, err := contentSignature(s.wire(nil))
	if err != nil {
		return nil, err
	} else if !bytes.Equal(expected, s.signature) {
		return nil, ErrBadSignature
	}
	return s, s.seal()
}

func (s *Segment) wire(sig []byte) segmentWire {
	return segmentWire{
		Name:      s.name.String(),
		Segment:   int64(s.segment),
		Catalog:   namesToStrings(s.catalog),
		Next:      optionalName(s.next),
		Signature: string(sig),
	}
}

// seal caches the encoded bytes and full name.
func (s *Segment) seal() error {
	b, err := encodeWire(s.wire(s.signature))
	if err != nil {
		return err
	}
	s.encoded = b
	s.fullName = s.name.WithDigest(ndn.DigestOf(b))
	return nil
}

// Name returns the segment's name.
func (s *Segment) Name() ndn.Name { return s.name }

// FullName returns the segment's name with its implicit digest.
func (s *Segment) FullName() ndn.Name { return s.fullName }

// SegmentNumber returns the segment's position in the torrent-file chain.
func (s *Segment) SegmentNumber() uint64 { return s.segment }

// Catalog returns the full names of the first sub-manifest of each file
// covered by this segment.
func (s *Segment) Catalog() []ndn.Name { return s.catalog }

// Next returns the full name of the next segment, or nil on the last one.
func (s *Segment) Next() *ndn.Name { return s.next }

// Bytes returns the encoded, signed segment.
func (s *Segment) Bytes() []byte { return s.encoded }
