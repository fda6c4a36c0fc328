package torrent

import (
	"bytes"
	"fmt"

	"github.com/ndn-torrent/ntd/ndn"
)

// A Manifest is one signed descriptor of a file's sub-manifest chain. Its
// catalog names the data packets of this sub-manifest; Next points at the
// following sub-manifest's full name, nil on the last one.
type Manifest struct {
	name       ndn.Name
	subNumber  uint64
	packetSize uint64
	catalog    []ndn.Name
	next       *ndn.Name
	signature  []byte

	encoded  []byte
	fullName ndn.Name
}

type manifestWire struct {
	Name       string   `bencode:"name"`
	Sub        int64    `bencode:"sub"`
	PacketSize int64    `bencode:"packet_size"`
	Catalog    []string `bencode:"catalog"`
	Next       string   `bencode:"next"`
	Signature  string   `bencode:"sig"`
}

// NewManifest constructs and signs a sub-manifest.
func NewManifest(name ndn.Name, subNumber, packetSize uint64, catalog []ndn.Name, next *ndn.Name) (*Manifest, error) {
	if Classify(name) != EntityManifest {
		return nil, fmt.Errorf("name %v is not a manifest name", name)
	}
	m := &Manifest{name: name, subNumber: subNumber, packetSize: packetSize, catalog: catalog, next: next}
	sig, err := contentSignature(m.wire(nil))
	if err != nil {
		return nil, err
	}
	m.signature = sig
	return m, m.seal()
}

// DecodeManifest decodes and signature-verifies a sub-manifest.
func DecodeManifest(b []byte) (*Manifest, error) {
	var w manifestWire
	if err := decodeWire(b, &w); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	name, err := ndn.ParseName(w.Name)
	if err != nil {
		return nil, fmt.Errorf("bad manifest name: %w", err)
	} else if Classify(name) != EntityManifest {
		return nil, fmt.Errorf("name %v is not a manifest name", name)
	}
	catalog, err := stringsToNames(w.Catalog)
	if err != nil {
		return nil, fmt.Errorf("bad catalog entry: %w", err)
	}
	next, err := parseOptionalName(w.Next)
	if err != nil {
		return nil, fmt.Errorf("bad next pointer: %w", err)
	}
	m := &Manifest{
		name:       name,
		subNumber:  uint64(w.Sub),
		packetSize: uint64(w.PacketSize),
		catalog:    catalog,
		next:       next,
		signature:  []byte(w.Signature),
	}
	expected, err := contentSignature(m.wire(nil))
	if err != nil {
		return nil, err
	} else if !bytes.Equal(expected, m.signature) {
		return nil, ErrBadSignature
	}
	return m, m.seal()
}

func (m *Manifest) wire(sig []byte) manifestWire {
	return manifestWire{
		Name:       m.name.String(),
		Sub:        int64(m.subNumber),
		PacketSize: int64(m.packetSize),
		Catalog:    namesToStrings(m.catalog),
		Next:       optionalName(m.next),
		Signature:  string(sig),
	}
}

func (m *Manifest) seal() error {
	b, err := encodeWire(m.wire(m.signature))
	if err != nil {
		return err
	}
	m.encoded = b
	m.fullName = m.name.WithDigest(ndn.DigestOf(b))
	return nil
}

// Name returns the manifest's name, including its sub-manifest number.
func (m *Manifest) Name() ndn.Name { return m.name }

// FullName returns the manifest's name with its implicit digest.
func (m *Manifest) FullName() ndn.Name { return m.fullName }

// FileName returns the path of the described file relative to the data
// directory.
func (m *Manifest) FileName() string { return FileName(m.name) }

// SubNumber returns the 0-based sub-manifest number.
func (m *Manifest) SubNumber() uint64 { return m.subNumber }

// PacketSize returns the configured data-packet payload size.
func (m *Manifest) PacketSize() uint64 { return m.packetSize }

// Catalog returns the full names of this sub-manifest's data packets.
func (m *Manifest) Catalog() []ndn.Name { return m.catalog }

// Next returns the full name of the next sub-manifest, or nil on the last
// one.
func (m *Manifest) Next() *ndn.Name { return m.next }

// Bytes returns the encoded, signed manifest.
func (m *Manifest) Bytes() []byte { return m.encoded }
