package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/torrent"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"lukechampine.com/frand"
)

const (
	testPacketSize      = 16
	testSubManifestSize = 2
)

// buildTestTorrent packetizes the given files into a chain with one file
// per torrent-file segment.
func buildTestTorrent(t *testing.T, files map[string][]byte) (*torrent.Built, string) {
	t.Helper()
	srcDir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(srcDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, content, 0644))
	}
	built, err := torrent.Build(srcDir, torrent.BuildOptions{
		TorrentPrefix:      ndn.MustParseName("/ntd/demo"),
		PacketSize:         testPacketSize,
		SubManifestSize:    testSubManifestSize,
		SegmentCatalogSize: 1,
	})
	require.NoError(t, err)
	return built, srcDir
}

func packetsOf(t *testing.T, srcDir string, m *torrent.Manifest) []*torrent.Packet {
	t.Helper()
	packets, err := torrent.PacketizeFile(filepath.Join(srcDir, filepath.FromSlash(m.FileName())),
		m.Name(), m.PacketSize(), testSubManifestSize, m.SubNumber())
	require.NoError(t, err)
	return packets
}

func newTestStore(t *testing.T, initial ndn.Name) (*Store, string, string) {
	t.Helper()
	appDir, dataDir := t.TempDir(), t.TempDir()
	return New(appDir, dataDir, initial, zaptest.NewLogger(t)), appDir, dataDir
}

func TestReconcileFresh(t *testing.T) {
	built, _ := buildTestTorrent(t, map[string][]byte{"a.bin": frand.Bytes(40)})
	s, _, _ := newTestStore(t, built.InitialName())

	require.NoError(t, s.Reconcile())
	require.Empty(t, s.Segments())
	require.False(t, s.HasAllSegments())

	next := s.NextSegment()
	require.NotNil(t, next)
	require.True(t, next.Equal(built.InitialName()))
}

func TestReconcilePartialChain(t *testing.T) {
	built, _ := buildTestTorrent(t, map[string][]byte{
		"a.bin": frand.Bytes(40),
		"b.bin": frand.Bytes(40),
		"c.bin": frand.Bytes(40),
	})
	require.Len(t, built.Segments, 3)

	s, appDir, _ := newTestStore(t, built.InitialName())
	for _, seg := range built.Segments[:2] {
		require.NoError(t, WriteSegment(seg, filepath.Join(appDir, "torrent_files")))
	}

	require.NoError(t, s.Reconcile())
	require.Len(t, s.Segments(), 2)
	require.False(t, s.HasAllSegments())

	next := s.NextSegment()
	require.NotNil(t, next)
	require.True(t, next.Equal(*built.Segments[1].Next()))
}

func TestReconcileCorruptedMiddleSegment(t *testing.T) {
	content := map[string][]byte{
		"a.bin": frand.Bytes(40),
		"b.bin": frand.Bytes(40),
		"c.bin": frand.Bytes(40),
	}
	built, _ := buildTestTorrent(t, content)

	// a same-named segment 1 from a diverged tree: its full name cannot
	// match segment 0's next pointer
	content["b.bin"] = frand.Bytes(40)
	diverged, _ := buildTestTorrent(t, content)

	s, appDir, _ := newTestStore(t, built.InitialName())
	dir := filepath.Join(appDir, "torrent_files")
	require.NoError(t, WriteSegment(built.Segments[0], dir))
	require.NoError(t, WriteSegment(diverged.Segments[1], dir))
	require.NoError(t, WriteSegment(built.Segments[2], dir))

	require.NoError(t, s.Reconcile())
	segments := s.Segments()
	require.Len(t, segments, 1)
	require.True(t, segments[0].FullName().Equal(built.Segments[0].FullName()))
}

func TestReconcileManifestsAndBitmaps(t *testing.T) {
	files := map[string][]byte{
		"a.bin":     frand.Bytes(5*testPacketSize + 3), // three sub-manifests
		"sub/b.bin": frand.Bytes(10),
	}
	built, _ := buildTestTorrent(t, files)

	s, appDir, dataDir := newTestStore(t, built.InitialName())
	for _, seg := range built.Segments {
		require.NoError(t, WriteSegment(seg, filepath.Join(appDir, "torrent_files")))
	}
	for _, m := range built.Manifests {
		require.NoError(t, WriteManifest(m, filepath.Join(appDir, "manifests")))
	}
	for name, content := range files {
		path := filepath.Join(dataDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, content, 0644))
	}

	require.NoError(t, s.Reconcile())
	require.True(t, s.HasAllSegments())
	require.Len(t, s.Manifests(), len(built.Manifests))
	for _, m := range built.Manifests {
		require.True(t, s.HasAllManifests(m.Name()), m.Name().String())
		for _, entry := range m.Catalog() {
			require.True(t, s.HasPacket(entry), entry.String())
		}
	}
	held, total := s.Progress()
	require.Equal(t, total, held)
	require.Empty(t, s.AllMissingPackets())
}

func TestReconcileTruncatedFile(t *testing.T) {
	content := frand.Bytes(4 * testPacketSize) // two sub-manifests, four packets
	built, _ := buildTestTorrent(t, map[string][]byte{"a.bin": content})

	s, appDir, dataDir := newTestStore(t, built.InitialName())
	for _, seg := range built.Segments {
		require.NoError(t, WriteSegment(seg, filepath.Join(appDir, "torrent_files")))
	}
	for _, m := range built.Manifests {
		require.NoError(t, WriteManifest(m, filepath.Join(appDir, "manifests")))
	}
	// only the first packet's bytes are on disk
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "a.bin"), content[:testPacketSize], 0644))

	require.NoError(t, s.Reconcile())
	held, total := s.Progress()
	require.EqualValues(t, 4, total)
	require.EqualValues(t, 1, held)
	require.True(t, s.HasPacket(built.Manifests[0].Catalog()[0]))
	require.False(t, s.HasPacket(built.Manifests[0].Catalog()[1]))
}

func TestReconcileManifestChainPrefix(t *testing.T) {
	built, _ := buildTestTorrent(t, map[string][]byte{"a.bin": frand.Bytes(5 * testPacketSize)})
	require.Len(t, built.Manifests, 3)

	s, appDir, _ := newTestStore(t, built.InitialName())
	for _, seg := range built.Segments {
		require.NoError(t, WriteSegment(seg, filepath.Join(appDir, "torrent_files")))
	}
	// sub-manifest 1 is missing: sub-manifest 2 must not be admitted
	require.NoError(t, WriteManifest(built.Manifests[0], filepath.Join(appDir, "manifests")))
	require.NoError(t, WriteManifest(built.Manifests[2], filepath.Join(appDir, "manifests")))

	require.NoError(t, s.Reconcile())
	manifests := s.Manifests()
	require.Len(t, manifests, 1)
	require.EqualValues(t, 0, manifests[0].SubNumber())
	require.False(t, s.HasAllManifests(built.Manifests[0].Name()))
}

func TestPersistIdempotence(t *testing.T) {
	built, srcDir := buildTestTorrent(t, map[string][]byte{"a.bin": frand.Bytes(40)})
	s, _, _ := newTestStore(t, built.InitialName())

	ok, err := s.PersistSegment(built.Segments[0])
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.PersistSegment(built.Segments[0])
	require.NoError(t, err)
	require.False(t, ok)

	m := built.Manifests[0]
	ok, err = s.PersistManifest(m)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.PersistManifest(m)
	require.NoError(t, err)
	require.False(t, ok)

	p := packetsOf(t, srcDir, m)[0]
	ok, err = s.PersistPacket(p)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.PersistPacket(p)
	require.NoError(t, err)
	require.False(t, ok)

	// the persisted packet reads back with a matching full name
	read, err := s.ReadPacket(p.FullName())
	require.NoError(t, err)
	require.NotNil(t, read)
	require.True(t, read.FullName().Equal(p.FullName()))
}

func TestPersistPacketWithoutManifest(t *testing.T) {
	built, srcDir := buildTestTorrent(t, map[string][]byte{"a.bin": frand.Bytes(40)})
	s, _, _ := newTestStore(t, built.InitialName())

	p := packetsOf(t, srcDir, built.Manifests[0])[0]
	ok, err := s.PersistPacket(p)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, s.HasPacket(p.FullName()))
}

func TestPersistSegmentRejectsForeignPrefix(t *testing.T) {
	built, _ := buildTestTorrent(t, map[string][]byte{"a.bin": frand.Bytes(40)})
	other, err := torrent.Build(t.TempDir(), torrent.BuildOptions{TorrentPrefix: ndn.MustParseName("/ntd/other")})
	require.Error(t, err) // empty directory

	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "x.bin"), frand.Bytes(8), 0644))
	other, err = torrent.Build(srcDir, torrent.BuildOptions{TorrentPrefix: ndn.MustParseName("/ntd/other")})
	require.NoError(t, err)

	s, _, _ := newTestStore(t, built.InitialName())
	ok, err := s.PersistSegment(other.Segments[0])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPersistSegmentSplicesBySegmentNumber(t *testing.T) {
	built, _ := buildTestTorrent(t, map[string][]byte{
		"a.bin": frand.Bytes(8),
		"b.bin": frand.Bytes(8),
	})
	require.Len(t, built.Segments, 2)

	s, _, _ := newTestStore(t, built.InitialName())
	ok, err := s.PersistSegment(built.Segments[1])
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.PersistSegment(built.Segments[0])
	require.NoError(t, err)
	require.True(t, ok)

	segments := s.Segments()
	require.EqualValues(t, 0, segments[0].SegmentNumber())
	require.EqualValues(t, 1, segments[1].SegmentNumber())
	require.True(t, s.HasAllSegments())
}

func TestMissingPackets(t *testing.T) {
	built, srcDir := buildTestTorrent(t, map[string][]byte{"a.bin": frand.Bytes(3 * testPacketSize)})
	s, _, _ := newTestStore(t, built.InitialName())

	for _, m := range built.Manifests {
		ok, err := s.PersistManifest(m)
		require.NoError(t, err)
		require.True(t, ok)
	}
	missing := s.MissingPackets(built.Manifests[0].Name())
	require.Len(t, missing, 3)

	p := packetsOf(t, srcDir, built.Manifests[0])[0]
	ok, err := s.PersistPacket(p)
	require.NoError(t, err)
	require.True(t, ok)

	missing = s.MissingPackets(built.Manifests[0].Name())
	require.Len(t, missing, 2)
	for _, n := range missing {
		require.False(t, n.Equal(p.FullName()))
	}
}
