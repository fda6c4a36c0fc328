package torrent

import (
	"bytes"

	"github.com/ndn-torrent/ntd/ndn"
)

// Marker components give each entity kind a recognizable name shape:
//
//	torrent-file segment  /<ns>/<torrent>/torrent-file/<seg#>
//	file manifest         /<ns>/<torrent>/<file path...>/manifest/<sub#>
//	data packet           /<ns>/<torrent>/<file path...>/manifest/<sub#>/<pkt#>
//
// Full names additionally carry an implicit digest component.
var (
	segmentMarker  = []byte("torrent-file")
	manifestMarker = []byte("manifest")
)

// EntityType classifies a name by its shape.
type EntityType int

// Entity types, in serving-precedence order.
const (
	EntityUnknown EntityType = iota
	EntitySegment
	EntityManifest
	EntityPacket
)

// String implements fmt.Stringer.
func (t EntityType) String() string {
	switch t {
	case EntitySegment:
		return "torrent-file segment"
	case EntityManifest:
		return "file manifest"
	case EntityPacket:
		return "data packet"
	default:
		return "unknown"
	}
}

// Classify determines the entity type of a name, with or without a trailing
// digest component.
func Classify(name ndn.Name) EntityType {
	n := name.WithoutDigest()
	if n.Len() < 2 {
		return EntityUnknown
	}
	if n.Len() >= 4 && bytes.Equal(n.Get(-2), segmentMarker) {
		if _, err := n.Seq(-1); err == nil {
			return EntitySegment
		}
		return EntityUnknown
	}
	if n.Len() >= 4 && bytes.Equal(n.Get(-2), manifestMarker) {
		if _, err := n.Seq(-1); err == nil {
			return EntityManifest
		}
		return EntityUnknown
	}
	if n.Len() >= 5 && bytes.Equal(n.Get(-3), manifestMarker) {
		if _, err := n.Seq(-1); err != nil {
			return EntityUnknown
		}
		if _, err := n.Seq(-2); err != nil {
			return EntityUnknown
		}
		return EntityPacket
	}
	return EntityUnknown
}

// SegmentName constructs a torrent-file segment name under the torrent
// prefix.
func SegmentName(torrentPrefix ndn.Name, seg uint64) ndn.Name {
	return torrentPrefix.Append(segmentMarker).AppendSeq(seg)
}

// ManifestName constructs a sub-manifest name for the file at the given
// path components.
func ManifestName(torrentPrefix ndn.Name, filePath []string, sub uint64) ndn.Name {
	return torrentPrefix.AppendString(filePath...).Append(manifestMarker).AppendSeq(sub)
}

// TorrentPrefix returns the prefix advertised once every torrent-file
// segment is held: everything up to and including the segment marker.
func TorrentPrefix(segmentName ndn.Name) ndn.Name {
	n := segmentName.WithoutDigest()
	return n.Prefix(-1)
}

// FilePrefix returns the per-file prefix advertised once every sub-manifest
// of the file is held: everything up to and including the manifest marker.
func FilePrefix(name ndn.Name) ndn.Name {
	n := name.WithoutDigest()
	switch Classify(n) {
	case EntityManifest:
		return n.Prefix(-1)
	case EntityPacket:
		return n.Prefix(-2)
	}
	return n
}

// FileName extracts the file's path (relative to the data directory) from a
// manifest or data-packet name.
func FileName(name ndn.Name) string {
	prefix := FilePrefix(name) // .../<file path...>/manifest
	var buf bytes.Buffer
	for i := 2; i < prefix.Len()-1; i++ {
		if i > 2 {
			buf.WriteByte('/')
		}
		buf.Write(prefix.Get(i))
	}
	return buf.String()
}
