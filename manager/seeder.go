package manager

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/torrent"
	"go.uber.org/zap"
)

// DefaultPacketCacheSize bounds the seeder's packet read cache.
const DefaultPacketCacheSize = 256

// The seeder decides when the node becomes authoritative for a name prefix
// and serves requests under advertised prefixes from the state store and
// disk. Hot packets are kept in an LRU cache to avoid redundant disk reads.
type seeder struct {
	mgr   *Manager
	log   *zap.Logger
	cache *lru.TwoQueueCache[string, *torrent.Packet]

	mu         sync.Mutex // advertised is also read by the status surface
	advertised map[string]bool
}

func newSeeder(mgr *Manager, cacheSize int, log *zap.Logger) (*seeder, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultPacketCacheSize
	}
	cache, err := lru.New2Q[string, *torrent.Packet](cacheSize)
	if err != nil {
		return nil, err
	}
	return &seeder{
		mgr:        mgr,
		log:        log,
		cache:      cache,
		advertised: make(map[string]bool),
	}, nil
}

// seed classifies a newly held item and advertises the covering prefix the
// moment the node holds everything under it: the torrent-file prefix once
// the whole segment chain is held, a file's manifest prefix once its
// sub-manifest chain is held. Data packets are subsumed by the manifest
// prefix.
func (sd *seeder) seed(fullName ndn.Name) {
	var prefix ndn.Name
	switch torrent.Classify(fullName) {
	case torrent.EntitySegment:
		if sd.mgr.store.HasAllSegments() {
			prefix = torrent.TorrentPrefix(fullName)
		}
	case torrent.EntityManifest:
		if sd.mgr.store.HasAllManifests(fullName) {
			prefix = torrent.FilePrefix(fullName)
		}
	case torrent.EntityPacket, torrent.EntityUnknown:
	}
	if prefix.Len() == 0 {
		return
	}
	sd.mu.Lock()
	if sd.advertised[prefix.String()] {
		sd.mu.Unlock()
		return
	}
	sd.advertised[prefix.String()] = true
	sd.mu.Unlock()
	sd.log.Info("advertising prefix", zap.Stringer("prefix", prefix))
	sd.mgr.face.Publish(prefix, sd.handleInterest, nil, sd.handleRegisterFailed)
}

// prefixes returns the advertised prefixes, sorted for stable output.
func (sd *seeder) prefixes() []string {
	sd.mu.Lock()
	defer sd.mu.Unlock()
	out := make([]string, 0, len(sd.advertised))
	for p := range sd.advertised {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// handleInterest serves an incoming request: torrent segments by full name,
// then manifests by full name, then data packets read through the codec.
// Anything else is logged and dropped.
func (sd *seeder) handleInterest(i ndn.Interest) {
	name := i.Name
	sd.log.Debug("interest received", zap.Stringer("name", name))

	if seg := sd.mgr.store.FindSegment(name); seg != nil {
		sd.mgr.face.Put(ndn.Data{Name: seg.FullName(), Bytes: seg.Bytes()})
		return
	}
	if m := sd.mgr.store.FindManifest(name); m != nil {
		sd.mgr.face.Put(ndn.Data{Name: m.FullName(), Bytes: m.Bytes()})
		return
	}

	key := name.String()
	if p, ok := sd.cache.Get(key); ok {
		sd.mgr.face.Put(ndn.Data{Name: p.FullName(), Bytes: p.Bytes()})
		return
	}
	p, err := sd.mgr.store.ReadPacket(name)
	if err != nil {
		sd.log.Error("failed to read data packet", zap.Stringer("name", name), zap.Error(err))
	} else if p != nil {
		sd.cache.Add(key, p)
		sd.mgr.face.Put(ndn.Data{Name: p.FullName(), Bytes: p.Bytes()})
		return
	}
	// TODO: reply with an application-level nack instead of going silent
	sd.log.Debug("no data for interest", zap.Stringer("name", name))
}

// handleRegisterFailed is fatal: a node that cannot register a prefix it is
// authoritative for cannot seed.
func (sd *seeder) handleRegisterFailed(prefix ndn.Name, err error) {
	sd.log.Error("failed to register prefix", zap.Stringer("prefix", prefix), zap.Error(err))
	sd.mgr.Shutdown()
}
