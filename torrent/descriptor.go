package torrent

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bencode "github.com/jackpal/bencode-go"
	"github.com/ndn-torrent/ntd/ndn"
)

// ErrBadSignature is returned when a descriptor's content signature does not
// match its body. Callers treat such descriptors as not held.
var ErrBadSignature = errors.New("invalid content signature")

// contentSignature computes the SHA-256 content signature over a wire body
// encoded with an empty signature field.
func contentSignature(wire interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, wire); err != nil {
		return nil, fmt.Errorf("failed to encode signed portion: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return sum[:], nil
}

func encodeWire(wire interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, wire); err != nil {
		return nil, fmt.Errorf("failed to encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeWire(b []byte, wire interface{}) error {
	return bencode.Unmarshal(bytes.NewReader(b), wire)
}

func namesToStrings(names []ndn.Name) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, n.String())
	}
	return out
}

func stringsToNames(ss []string) ([]ndn.Name, error) {
	out := make([]ndn.Name, 0, len(ss))
	for _, s := range ss {
		n, err := ndn.ParseName(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func optionalName(n *ndn.Name) string {
	if n == nil {
		return ""
	}
	return n.String()
}

func parseOptionalName(s string) (*ndn.Name, error) {
	if s == "" {
		return nil, nil
	}
	n, err := ndn.ParseName(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
