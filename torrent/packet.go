package torrent

import (
	"bytes"
	"fmt"

	"github.com/ndn-torrent/ntd/ndn"
)

// A Packet is a signed, named payload of at most the manifest's configured
// packet size. Its index within the owning sub-manifest is the final name
// component.
type Packet struct {
	name      ndn.Name
	payload   []byte
	signature []byte

	encoded  []byte
	fullName ndn.Name
}

type packetWire struct {
	Name      string `bencode:"name"`
	Payload   string `bencode:"payload"`
	Signature string `bencode:"sig"`
}

// NewPacket constructs and signs a data packet.
func NewPacket(name ndn.Name, payload []byte) (*Packet, error) {
	if Classify(name) != EntityPacket {
		return nil, fmt.Errorf("name %v is not a data-packet name", name)
	}
	p := &Packet{name: name, payload: payload}
	sig, err := contentSignature(p.wire(nil))
	if err != nil {
		return nil, err
	}
	p.signature = sig
	return p, p.seal()
}

// DecodePacket decodes and signature-verifies a data packet.
func DecodePacket(b []byte) (*Packet, error) {
	var w packetWire
	if err := decodeWire(b, &w); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}
	name, err := ndn.ParseName(w.Name)
	if err != nil {
		return nil, fmt.Errorf("bad packet name: %w", err)
	} else if Classify(name) != EntityPacket {
		return nil, fmt.Errorf("name %v is not a data-packet name", name)
	}
	p := &Packet{
		name:      name,
		payload:   []byte(w.Payload),
		signature: []byte(w.Signature),
	}
	expected, err := contentSignature(p.wire(nil))
	if err != nil {
		return nil, err
	} else if !bytes.Equal(expected, p.signature) {
		return nil, ErrBadSignature
	}
	return p, p.seal()
}

func (p *Packet) wire(sig []byte) packetWire {
	return packetWire{
		Name:      p.name.String(),
		Payload:   string(p.payload),
		Signature: string(sig),
	}
}

func (p *Packet) seal() error {
	b, err := encodeWire(p.wire(p.signature))
	if err != nil {
		return err
	}
	p.encoded = b
	p.fullName = p.name.WithDigest(ndn.DigestOf(b))
	return nil
}

// Name returns the packet's name.
func (p *Packet) Name() ndn.Name { return p.name }

// FullName returns the packet's name with its implicit digest.
func (p *Packet) FullName() ndn.Name { return p.fullName }

// Index returns the packet's position within its sub-manifest.
func (p *Packet) Index() uint64 {
	seq, _ := p.name.Seq(-1)
	return seq
}

// Payload returns the packet's payload bytes.
func (p *Packet) Payload() []byte { return p.payload }

// Bytes returns the encoded, signed packet.
func (p *Packet) Bytes() []byte { return p.encoded }
