// Package storage owns the on-disk layout of a torrent: persisted
// descriptors under the appdata directory and reconstructed payload files
// laid out so that packet index times packet size is the byte offset of that
// packet.
package storage

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/torrent"
)

const (
	segmentExt  = ".seg"
	manifestExt = ".man"
)

func descriptorPath(dir string, fullName ndn.Name, ext string) string {
	digest, _ := fullName.Digest()
	return filepath.Join(dir, hex.EncodeToString(digest)+ext)
}

// WriteSegment persists an encoded torrent-file segment, one file per
// segment.
func WriteSegment(s *torrent.Segment, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return os.WriteFile(descriptorPath(dir, s.FullName(), segmentExt), s.Bytes(), 0644)
}

// WriteManifest persists an encoded sub-manifest, one file per sub-manifest.
func WriteManifest(m *torrent.Manifest, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return os.WriteFile(descriptorPath(dir, m.FullName(), manifestExt), m.Bytes(), 0644)
}

// LoadSegments loads every decodable, signature-valid segment in dir, in no
// particular order. Undecodable files are skipped; chain verification is the
// caller's concern.
func LoadSegments(dir string) ([]*torrent.Segment, error) {
	var out []*torrent.Segment
	err := loadDirectory(dir, segmentExt, func(b []byte) {
		if s, err := torrent.DecodeSegment(b); err == nil {
			out = append(out, s)
		}
	})
	return out, err
}

// LoadManifests loads every decodable, signature-valid sub-manifest in dir.
func LoadManifests(dir string) ([]*torrent.Manifest, error) {
	var out []*torrent.Manifest
	err := loadDirectory(dir, manifestExt, func(b []byte) {
		if m, err := torrent.DecodeManifest(b); err == nil {
			out = append(out, m)
		}
	})
	return out, err
}

func loadDirectory(dir, ext string, accept func([]byte)) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		accept(b)
	}
	return nil
}

// WritePacket writes a packet's payload at its deterministic offset within
// the reconstructed file.
func WritePacket(p *torrent.Packet, m *torrent.Manifest, subManifestSize uint64, filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	offset := (m.SubNumber()*subManifestSize + p.Index()) * m.PacketSize()
	if _, err := f.WriteAt(p.Payload(), int64(offset)); err != nil {
		return fmt.Errorf("failed to write packet at offset %d: %w", offset, err)
	}
	return nil
}

// ReadPacket re-frames a packet from the reconstructed file. The returned
// packet's full name equals the original's if and only if the bytes on disk
// are intact.
func ReadPacket(name ndn.Name, m *torrent.Manifest, subManifestSize uint64, filePath string) (*torrent.Packet, error) {
	packetName := name.WithoutDigest()
	index, err := packetName.Seq(-1)
	if err != nil {
		return nil, fmt.Errorf("bad packet name %v: %w", name, err)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer f.Close()

	offset := (m.SubNumber()*subManifestSize + index) * m.PacketSize()
	buf := make([]byte, m.PacketSize())
	n, err := f.ReadAt(buf, int64(offset))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read packet at offset %d: %w", offset, err)
	} else if n == 0 {
		return nil, fmt.Errorf("no bytes at offset %d of %s", offset, filePath)
	}
	return torrent.NewPacket(packetName, buf[:n])
}
