package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/torrent"
	"github.com/willf/bitset"
	"go.uber.org/zap"
)

// A Store holds the in-memory collections of known torrent-file segments,
// sub-manifests, and per-file packet bitmaps, and reconciles them with the
// on-disk state at startup.
//
// Collections obey three invariants: the segment list is a verified prefix
// of the chain rooted at the configured initial name; manifests form, per
// file, a contiguous sub-manifest prefix starting at 0; and every set bitmap
// bit has its packet's bytes on disk at the deterministic offset.
//
// The core mutates the store from the face's event loop only. The mutex
// exists because the HTTP status surface and the download kick read from
// other goroutines.
type Store struct {
	log     *zap.Logger
	initial ndn.Name // full name of the first torrent-file segment
	appDir  string   // .appdata/<torrent-name>
	dataDir string

	mu               sync.Mutex
	segments         []*torrent.Segment
	manifests        []*torrent.Manifest
	fileStates       map[string]*bitset.BitSet // manifest full name -> packet bitmap
	subManifestSizes map[string]uint64         // file name -> sub-manifest 0 catalog size
}

// New creates a store rooted at the given appdata and data directories.
func New(appDir, dataDir string, initial ndn.Name, log *zap.Logger) *Store {
	return &Store{
		log:              log,
		initial:          initial,
		appDir:           appDir,
		dataDir:          dataDir,
		fileStates:       make(map[string]*bitset.BitSet),
		subManifestSizes: make(map[string]uint64),
	}
}

func (s *Store) segmentDir() string  { return filepath.Join(s.appDir, "torrent_files") }
func (s *Store) manifestDir() string { return filepath.Join(s.appDir, "manifests") }

// torrentPrefix is the admission prefix for incoming segments.
func (s *Store) torrentPrefix() ndn.Name {
	return torrent.TorrentPrefix(s.initial)
}

// Reconcile loads persisted descriptors and rebuilds packet bitmaps from the
// files on disk. Only the verifiable segment-chain prefix and, per file, the
// contiguous sub-manifest prefix survive; everything else is ignored.
func (s *Store) Reconcile() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loaded, err := LoadSegments(s.segmentDir())
	if err != nil {
		return fmt.Errorf("failed to load torrent segments: %w", err)
	}
	byFullName := make(map[string]*torrent.Segment, len(loaded))
	for _, seg := range loaded {
		byFullName[seg.FullName().String()] = seg
	}

	// walk the chain from the configured initial name; stop at the first
	// break
	expected := &s.initial
	for expected != nil {
		seg, ok := byFullName[expected.String()]
		if !ok {
			break
		}
		s.segments = append(s.segments, seg)
		expected = seg.Next()
	}
	if len(s.segments) == 0 {
		s.log.Debug("no persisted torrent segments")
		return nil
	}

	loadedManifests, err := LoadManifests(s.manifestDir())
	if err != nil {
		return fmt.Errorf("failed to load manifests: %w", err)
	}
	manifestsByFullName := make(map[string]*torrent.Manifest, len(loadedManifests))
	for _, m := range loadedManifests {
		manifestsByFullName[m.FullName().String()] = m
	}

	// accept, for each file named by the accepted segments, the contiguous
	// sub-manifest chain prefix
	for _, seg := range s.segments {
		for _, initialName := range seg.Catalog() {
			initialName := initialName
			expected := &initialName
			for expected != nil {
				m, ok := manifestsByFullName[expected.String()]
				if !ok {
					break
				}
				s.manifests = append(s.manifests, m)
				expected = m.Next()
			}
		}
	}

	for _, m := range s.manifests {
		if m.SubNumber() == 0 {
			s.subManifestSizes[m.FileName()] = uint64(len(m.Catalog()))
		}
	}

	for _, m := range s.manifests {
		if err := s.rebuildFileState(m); err != nil {
			return err
		}
	}

	s.log.Info("reconciled on-disk state",
		zap.Int("segments", len(s.segments)),
		zap.Int("manifests", len(s.manifests)),
		zap.Int("fileStates", len(s.fileStates)))
	return nil
}

// rebuildFileState re-packetizes the on-disk file and sets a bit for every
// produced packet whose full name matches the catalog entry at its index.
func (s *Store) rebuildFileState(m *torrent.Manifest) error {
	filePath := filepath.Join(s.dataDir, filepath.FromSlash(m.FileName()))
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return fmt.Errorf("failed to create parent directories: %w", err)
		}
		return nil
	}

	packets, err := torrent.PacketizeFile(filePath, m.Name(), m.PacketSize(), s.subManifestSizes[m.FileName()], m.SubNumber())
	if err != nil {
		return fmt.Errorf("failed to packetize %s: %w", filePath, err)
	}

	catalog := m.Catalog()
	state := bitset.New(uint(len(catalog)))
	var set uint
	for _, p := range packets {
		i := p.Index()
		if i < uint64(len(catalog)) && catalog[i].Equal(p.FullName()) {
			state.Set(uint(i))
			set++
		}
	}
	if set == 0 {
		return nil
	}
	s.fileStates[m.FullName().String()] = state
	return nil
}

// PersistSegment accepts a segment under the torrent prefix that is not
// already held, writes it to disk, and splices it into the list by segment
// number. The first return reports whether anything changed.
func (s *Store) PersistSegment(seg *torrent.Segment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.torrentPrefix().IsPrefixOf(seg.Name()) {
		return false, nil
	}
	for _, held := range s.segments {
		if held.FullName().Equal(seg.FullName()) {
			return false, nil
		}
	}
	if err := WriteSegment(seg, s.segmentDir()); err != nil {
		return false, err
	}
	at := sort.Search(len(s.segments), func(i int) bool {
		return seg.SegmentNumber() < s.segments[i].SegmentNumber()
	})
	s.segments = append(s.segments, nil)
	copy(s.segments[at+1:], s.segments[at:])
	s.segments[at] = seg
	return true, nil
}

// PersistManifest accepts a sub-manifest that is not already held, records
// the file's sub-manifest size from sub-manifest 0, writes it to disk, and
// splices it into the list ordered by file name then sub-manifest number.
func (s *Store) PersistManifest(m *torrent.Manifest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, held := range s.manifests {
		if held.FullName().Equal(m.FullName()) {
			return false, nil
		}
	}
	if m.SubNumber() == 0 {
		s.subManifestSizes[m.FileName()] = uint64(len(m.Catalog()))
	}
	if err := WriteManifest(m, s.manifestDir()); err != nil {
		return false, err
	}
	at := sort.Search(len(s.manifests), func(i int) bool {
		held := s.manifests[i]
		if held.FileName() != m.FileName() {
			return held.FileName() > m.FileName()
		}
		return held.SubNumber() > m.SubNumber()
	})
	s.manifests = append(s.manifests, nil)
	copy(s.manifests[at+1:], s.manifests[at:])
	s.manifests[at] = m
	return true, nil
}

// PersistPacket locates the packet's owning sub-manifest, writes the payload
// at its offset, and sets the bitmap bit. A packet whose bit is already set
// is a no-op; a packet with no owning manifest is not held.
func (s *Store) PersistPacket(p *torrent.Packet) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findOwningManifest(p.Name())
	if m == nil {
		return false, nil
	}
	key := m.FullName().String()
	state, ok := s.fileStates[key]
	if !ok {
		state = bitset.New(uint(len(m.Catalog())))
		s.fileStates[key] = state
	}
	index := p.Index()
	if state.Test(uint(index)) {
		return false, nil
	}
	filePath := filepath.Join(s.dataDir, filepath.FromSlash(m.FileName()))
	if err := WritePacket(p, m, s.subManifestSizes[m.FileName()], filePath); err != nil {
		return false, err
	}
	state.Set(uint(index))
	return true, nil
}

// findOwningManifest returns the held sub-manifest whose name is a prefix of
// the given packet name. Callers must hold mu.
func (s *Store) findOwningManifest(packetName ndn.Name) *torrent.Manifest {
	n := packetName.WithoutDigest()
	for _, m := range s.manifests {
		if m.Name().IsPrefixOf(n) {
			return m
		}
	}
	return nil
}

// Segments returns the held segment chain prefix.
func (s *Store) Segments() []*torrent.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*torrent.Segment(nil), s.segments...)
}

// Manifests returns the held sub-manifests.
func (s *Store) Manifests() []*torrent.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*torrent.Manifest(nil), s.manifests...)
}

// NextSegment returns the name of the next torrent-file segment to fetch:
// the configured initial name when nothing is held, otherwise the last held
// segment's next pointer. A nil name means the chain is complete.
func (s *Store) NextSegment() *ndn.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.segments) == 0 {
		initial := s.initial
		return &initial
	}
	return s.segments[len(s.segments)-1].Next()
}

// LatestManifest returns the held sub-manifest of the file named by
// manifestName with the highest sub-manifest number, if any.
func (s *Store) LatestManifest(manifestName ndn.Name) *torrent.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := torrent.FilePrefix(manifestName)
	for i := len(s.manifests) - 1; i >= 0; i-- {
		if prefix.IsPrefixOf(s.manifests[i].Name()) {
			return s.manifests[i]
		}
	}
	return nil
}

// HasAllSegments reports whether the full torrent-file chain is held,
// i.e. the chain from the initial name reaches a segment with a nil next
// pointer.
func (s *Store) HasAllSegments() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byFullName := make(map[string]*torrent.Segment, len(s.segments))
	for _, seg := range s.segments {
		byFullName[seg.FullName().String()] = seg
	}
	expected := &s.initial
	for {
		seg, ok := byFullName[expected.String()]
		if !ok {
			return false
		}
		if seg.Next() == nil {
			return true
		}
		expected = seg.Next()
	}
}

// HasAllManifests reports whether every sub-manifest of the file named by
// name is held, i.e. the chain from sub-manifest 0 reaches a nil next
// pointer.
func (s *Store) HasAllManifests(name ndn.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := torrent.FilePrefix(name)
	byFullName := make(map[string]*torrent.Manifest)
	var head *torrent.Manifest
	for _, m := range s.manifests {
		if !prefix.IsPrefixOf(m.Name()) {
			continue
		}
		byFullName[m.FullName().String()] = m
		if m.SubNumber() == 0 {
			head = m
		}
	}
	for m := head; m != nil; {
		next := m.Next()
		if next == nil {
			return true
		}
		m = byFullName[next.String()]
	}
	return false
}

// HasPacket reports whether the named packet's bitmap bit is set.
func (s *Store) HasPacket(name ndn.Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findOwningManifest(name)
	if m == nil {
		return false
	}
	state, ok := s.fileStates[m.FullName().String()]
	if !ok {
		return false
	}
	index, err := name.WithoutDigest().Seq(-1)
	if err != nil {
		return false
	}
	return state.Test(uint(index))
}

// FindSegment returns the held segment with the given full name.
func (s *Store) FindSegment(fullName ndn.Name) *torrent.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.FullName().Equal(fullName) {
			return seg
		}
	}
	return nil
}

// FindManifest returns the held sub-manifest with the given full name.
func (s *Store) FindManifest(fullName ndn.Name) *torrent.Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.manifests {
		if m.FullName().Equal(fullName) {
			return m
		}
	}
	return nil
}

// ReadPacket reads a held packet back from disk via the codec. It returns
// nil if the packet's bit is unset or its owning manifest is unknown.
func (s *Store) ReadPacket(name ndn.Name) (*torrent.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findOwningManifest(name)
	if m == nil {
		return nil, nil
	}
	state, ok := s.fileStates[m.FullName().String()]
	if !ok {
		return nil, nil
	}
	index, err := name.WithoutDigest().Seq(-1)
	if err != nil || !state.Test(uint(index)) {
		return nil, nil
	}
	filePath := filepath.Join(s.dataDir, filepath.FromSlash(m.FileName()))
	return ReadPacket(name, m, s.subManifestSizes[m.FileName()], filePath)
}

// MissingPackets returns the catalog entries of the named file whose bits
// are unset, across all held sub-manifests of that file.
func (s *Store) MissingPackets(manifestName ndn.Name) []ndn.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := torrent.FilePrefix(manifestName)
	var missing []ndn.Name
	for _, m := range s.manifests {
		if !prefix.IsPrefixOf(m.Name()) {
			continue
		}
		missing = append(missing, s.missingFromManifest(m)...)
	}
	return missing
}

// AllMissingPackets returns every catalog entry, across all files, whose bit
// is unset.
func (s *Store) AllMissingPackets() []ndn.Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	var missing []ndn.Name
	for _, m := range s.manifests {
		missing = append(missing, s.missingFromManifest(m)...)
	}
	return missing
}

// missingFromManifest collects unset catalog entries. Callers must hold mu.
func (s *Store) missingFromManifest(m *torrent.Manifest) []ndn.Name {
	state, ok := s.fileStates[m.FullName().String()]
	if !ok {
		return append([]ndn.Name(nil), m.Catalog()...)
	}
	var missing []ndn.Name
	for i, entry := range m.Catalog() {
		if !state.Test(uint(i)) {
			missing = append(missing, entry)
		}
	}
	return missing
}

// Progress reports held and total packet counts across all held
// sub-manifests.
func (s *Store) Progress() (held, total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.manifests {
		total += uint64(len(m.Catalog()))
		if state, ok := s.fileStates[m.FullName().String()]; ok {
			held += uint64(state.Count())
		}
	}
	return held, total
}
