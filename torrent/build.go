package torrent

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ndn-torrent/ntd/ndn"
)

// Default chain geometry.
const (
	DefaultPacketSize         = 1024
	DefaultSubManifestSize    = 128
	DefaultSegmentCatalogSize = 64
)

type (
	// BuildOptions controls the geometry of a published torrent.
	BuildOptions struct {
		// TorrentPrefix is the authoring prefix, e.g. /ntd/<torrent-name>.
		TorrentPrefix ndn.Name
		// PacketSize is the maximum data-packet payload size in bytes.
		PacketSize uint64
		// SubManifestSize is the number of packets named per sub-manifest.
		SubManifestSize uint64
		// SegmentCatalogSize is the number of files named per torrent-file
		// segment.
		SegmentCatalogSize int
	}

	// A Built holds the complete descriptor tree for a published directory.
	Built struct {
		Segments  []*Segment
		Manifests []*Manifest
	}
)

// InitialName returns the full name of the first torrent-file segment, the
// name leeches are configured with.
func (b *Built) InitialName() ndn.Name {
	return b.Segments[0].FullName()
}

// PacketizeFile frames one sub-manifest's window of the file at path into
// signed data packets named under manifestName. A window that starts past
// the end of the file yields no packets.
func PacketizeFile(path string, manifestName ndn.Name, packetSize, subManifestSize, subNumber uint64) ([]*Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(subNumber*subManifestSize*packetSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek: %w", err)
	}

	var packets []*Packet
	buf := make([]byte, packetSize)
	for i := uint64(0); i < subManifestSize; i++ {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			p, err := NewPacket(manifestName.AppendSeq(i), payload)
			if err != nil {
				return nil, err
			}
			packets = append(packets, p)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return packets, nil
}

// Build packetizes every file under dataDir into a torrent descriptor tree.
// Chains are built back to front because each descriptor's next pointer is
// the following descriptor's full name.
func Build(dataDir string, opts BuildOptions) (*Built, error) {
	if opts.PacketSize == 0 {
		opts.PacketSize = DefaultPacketSize
	}
	if opts.SubManifestSize == 0 {
		opts.SubManifestSize = DefaultSubManifestSize
	}
	if opts.SegmentCatalogSize == 0 {
		opts.SegmentCatalogSize = DefaultSegmentCatalogSize
	}

	var files []string
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, err := filepath.Rel(dataDir, path)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dataDir, err)
	} else if len(files) == 0 {
		return nil, fmt.Errorf("no files under %s", dataDir)
	}
	sort.Strings(files)

	var built Built
	var initialNames []ndn.Name
	for _, file := range files {
		manifests, err := buildFileChain(filepath.Join(dataDir, filepath.FromSlash(file)), strings.Split(file, "/"), opts)
		if err != nil {
			return nil, fmt.Errorf("failed to packetize %s: %w", file, err)
		}
		initialNames = append(initialNames, manifests[0].FullName())
		built.Manifests = append(built.Manifests, manifests...)
	}

	numSegments := (len(initialNames) + opts.SegmentCatalogSize - 1) / opts.SegmentCatalogSize
	segments := make([]*Segment, numSegments)
	var next *ndn.Name
	for i := numSegments - 1; i >= 0; i-- {
		start := i * opts.SegmentCatalogSize
		end := start + opts.SegmentCatalogSize
		if end > len(initialNames) {
			end = len(initialNames)
		}
		s, err := NewSegment(SegmentName(opts.TorrentPrefix, uint64(i)), uint64(i), initialNames[start:end], next)
		if err != nil {
			return nil, err
		}
		segments[i] = s
		fn := s.FullName()
		next = &fn
	}
	built.Segments = segments
	return &built, nil
}

// buildFileChain builds a file's sub-manifest chain, last sub-manifest
// first.
func buildFileChain(path string, filePath []string, opts BuildOptions) ([]*Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	window := opts.PacketSize * opts.SubManifestSize
	numSubs := (uint64(info.Size()) + window - 1) / window
	if numSubs == 0 {
		numSubs = 1
	}

	manifests := make([]*Manifest, numSubs)
	var next *ndn.Name
	for sub := int64(numSubs) - 1; sub >= 0; sub-- {
		name := ManifestName(opts.TorrentPrefix, filePath, uint64(sub))
		packets, err := PacketizeFile(path, name, opts.PacketSize, opts.SubManifestSize, uint64(sub))
		if err != nil {
			return nil, err
		}
		catalog := make([]ndn.Name, 0, len(packets))
		for _, p := range packets {
			catalog = append(catalog, p.FullName())
		}
		m, err := NewManifest(name, uint64(sub), opts.PacketSize, catalog, next)
		if err != nil {
			return nil, err
		}
		manifests[sub] = m
		fn := m.FullName()
		next = &fn
	}
	return manifests, nil
}
