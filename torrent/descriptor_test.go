package torrent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		want EntityType
	}{
		{"/ntd/demo/torrent-file/0", EntitySegment},
		{"/ntd/demo/a.txt/manifest/0", EntityManifest},
		{"/ntd/demo/dir/a.txt/manifest/3", EntityManifest},
		{"/ntd/demo/a.txt/manifest/0/7", EntityPacket},
		{"/ntd/demo/torrent-file/x", EntityUnknown},
		{"/ntd/demo", EntityUnknown},
		{"/ntd/demo/a.txt/other/0", EntityUnknown},
	}
	for _, tt := range tests {
		n := ndn.MustParseName(tt.name)
		require.Equal(t, tt.want, Classify(n), tt.name)
		// a trailing digest must not change the classification
		full := n.WithDigest(ndn.DigestOf([]byte("x")))
		require.Equal(t, tt.want, Classify(full), tt.name)
	}
}

func TestFileNaming(t *testing.T) {
	prefix := ndn.MustParseName("/ntd/demo")
	m := ManifestName(prefix, []string{"dir", "a.txt"}, 2)
	require.Equal(t, "/ntd/demo/dir/a.txt/manifest/2", m.String())
	require.Equal(t, "dir/a.txt", FileName(m))
	require.Equal(t, "/ntd/demo/dir/a.txt/manifest", FilePrefix(m).String())
	require.Equal(t, "/ntd/demo/dir/a.txt/manifest", FilePrefix(m.AppendSeq(5)).String())

	s := SegmentName(prefix, 1)
	require.Equal(t, "/ntd/demo/torrent-file/1", s.String())
	require.Equal(t, "/ntd/demo/torrent-file", TorrentPrefix(s).String())
}

func TestSegmentRoundTrip(t *testing.T) {
	prefix := ndn.MustParseName("/ntd/demo")
	catalog := []ndn.Name{
		ManifestName(prefix, []string{"a.txt"}, 0).WithDigest(ndn.DigestOf([]byte("a"))),
		ManifestName(prefix, []string{"b.txt"}, 0).WithDigest(ndn.DigestOf([]byte("b"))),
	}
	next := SegmentName(prefix, 1).WithDigest(ndn.DigestOf([]byte("next")))

	s, err := NewSegment(SegmentName(prefix, 0), 0, catalog, &next)
	require.NoError(t, err)
	require.True(t, s.FullName().HasDigest())

	decoded, err := DecodeSegment(s.Bytes())
	require.NoError(t, err)
	require.True(t, decoded.FullName().Equal(s.FullName()))
	require.EqualValues(t, 0, decoded.SegmentNumber())
	require.Len(t, decoded.Catalog(), 2)
	require.True(t, decoded.Catalog()[0].Equal(catalog[0]))
	require.NotNil(t, decoded.Next())
	require.True(t, decoded.Next().Equal(next))

	// last segment has no next pointer
	last, err := NewSegment(SegmentName(prefix, 1), 1, catalog, nil)
	require.NoError(t, err)
	decoded, err = DecodeSegment(last.Bytes())
	require.NoError(t, err)
	require.Nil(t, decoded.Next())
}

func TestManifestRoundTrip(t *testing.T) {
	prefix := ndn.MustParseName("/ntd/demo")
	name := ManifestName(prefix, []string{"a.txt"}, 0)
	catalog := []ndn.Name{
		name.AppendSeq(0).WithDigest(ndn.DigestOf([]byte("p0"))),
		name.AppendSeq(1).WithDigest(ndn.DigestOf([]byte("p1"))),
	}
	m, err := NewManifest(name, 0, 1024, catalog, nil)
	require.NoError(t, err)

	decoded, err := DecodeManifest(m.Bytes())
	require.NoError(t, err)
	require.True(t, decoded.FullName().Equal(m.FullName()))
	require.Equal(t, "a.txt", decoded.FileName())
	require.EqualValues(t, 1024, decoded.PacketSize())
	require.Len(t, decoded.Catalog(), 2)
}

func TestPacketRoundTrip(t *testing.T) {
	name := ndn.MustParseName("/ntd/demo/a.txt/manifest/0/3")
	p, err := NewPacket(name, []byte{0x00, 0x01, 0xff})
	require.NoError(t, err)
	require.EqualValues(t, 3, p.Index())

	decoded, err := DecodePacket(p.Bytes())
	require.NoError(t, err)
	require.True(t, decoded.FullName().Equal(p.FullName()))
	require.Equal(t, p.Payload(), decoded.Payload())
}

func TestDecodeRejectsTamperedBytes(t *testing.T) {
	name := ndn.MustParseName("/ntd/demo/a.txt/manifest/0/0")
	p, err := NewPacket(name, []byte("payload bytes"))
	require.NoError(t, err)

	tampered := append([]byte(nil), p.Bytes()...)
	// flip a payload byte without breaking the bencode framing
	i := len(tampered) / 2
	tampered[i] ^= 0x20
	_, err = DecodePacket(tampered)
	require.Error(t, err)
}

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	// two sub-manifests for a.txt, one for sub/b.txt
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), frand.Bytes(5*16+7), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), frand.Bytes(10), 0644))

	built, err := Build(dir, BuildOptions{
		TorrentPrefix:      ndn.MustParseName("/ntd/demo"),
		PacketSize:         16,
		SubManifestSize:    4,
		SegmentCatalogSize: 1,
	})
	require.NoError(t, err)

	// one file per segment, chained
	require.Len(t, built.Segments, 2)
	require.NotNil(t, built.Segments[0].Next())
	require.True(t, built.Segments[0].Next().Equal(built.Segments[1].FullName()))
	require.Nil(t, built.Segments[1].Next())
	require.True(t, built.InitialName().Equal(built.Segments[0].FullName()))

	// 87 bytes at 16-byte packets in windows of 4 -> subs 0,1 plus sub 0 of b
	require.Len(t, built.Manifests, 3)
	require.Equal(t, "a.txt", built.Manifests[0].FileName())
	require.True(t, built.Manifests[0].Next().Equal(built.Manifests[1].FullName()))
	require.Nil(t, built.Manifests[1].Next())
	require.Len(t, built.Manifests[0].Catalog(), 4)
	require.Len(t, built.Manifests[1].Catalog(), 2)

	// segment catalogs name each file's first sub-manifest
	require.True(t, built.Segments[0].Catalog()[0].Equal(built.Manifests[0].FullName()))
	require.True(t, built.Segments[1].Catalog()[0].Equal(built.Manifests[2].FullName()))

	// packet full names match the catalog entries
	packets, err := PacketizeFile(filepath.Join(dir, "a.txt"), built.Manifests[1].Name(), 16, 4, 1)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	for i, p := range packets {
		require.True(t, p.FullName().Equal(built.Manifests[1].Catalog()[i]))
	}
	// final packet carries the short tail
	require.Len(t, packets[1].Payload(), 7)
}
