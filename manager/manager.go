// Package manager implements the torrent manager: the state machine that
// reconciles on-disk state with the torrent tree at startup, schedules
// outbound requests through a windowed queue with per-peer statistics,
// verifies and persists incoming entities, advertises served prefixes the
// moment the node becomes authoritative for them, and handles retries, peer
// failover, and transport-level nacks.
package manager

import (
	"sync"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/peers"
	"github.com/ndn-torrent/ntd/storage"
	"github.com/ndn-torrent/ntd/torrent"
	"github.com/ndn-torrent/ntd/update"
	"go.uber.org/zap"
)

type (
	// A PeerStore persists peer statistics between runs.
	PeerStore interface {
		Peers() ([]peers.Record, error)
		UpdatePeers([]peers.Record) error
	}

	// Options tunes the manager.
	Options struct {
		// WindowSize caps in-flight interests.
		WindowSize int
		// MaxRetries is the consecutive-failure threshold for peer
		// failover.
		MaxRetries int
		// SortingInterval is the number of interests between stats-table
		// re-sorts.
		SortingInterval int
		// PacketCacheSize bounds the seeder's packet read cache.
		PacketCacheSize int
		// SeedOnly keeps the node alive to serve requests after (or
		// instead of) downloading.
		SeedOnly bool
	}

	// Status is a point-in-time snapshot for the API surface.
	Status struct {
		Torrent      string   `json:"torrent"`
		Segments     int      `json:"segments"`
		Manifests    int      `json:"manifests"`
		PacketsHeld  uint64   `json:"packetsHeld"`
		PacketsTotal uint64   `json:"packetsTotal"`
		InFlight     int      `json:"inFlight"`
		Advertised   []string `json:"advertised"`
		SeedOnly     bool     `json:"seedOnly"`
	}

	// A Manager drives one torrent: leeching what the node lacks and
	// seeding what it holds.
	Manager struct {
		log      *zap.Logger
		face     ndn.Face
		store    *storage.Store
		sched    *scheduler
		seeder   *seeder
		peerDB   PeerStore
		initial  ndn.Name
		seedOnly bool

		closeOnce sync.Once
		done      chan struct{}
	}
)

// New creates a manager for the torrent rooted at the given initial
// torrent-file segment full name. peerDB may be nil.
func New(face ndn.Face, store *storage.Store, table *peers.Table, upd update.Handler, peerDB PeerStore, initial ndn.Name, opts Options, log *zap.Logger) (*Manager, error) {
	m := &Manager{
		log:      log,
		face:     face,
		store:    store,
		peerDB:   peerDB,
		initial:  initial,
		seedOnly: opts.SeedOnly,
		done:     make(chan struct{}),
	}
	m.sched = newScheduler(face, table, upd, opts.WindowSize, opts.MaxRetries, opts.SortingInterval, log.Named("scheduler"))
	sd, err := newSeeder(m, opts.PacketCacheSize, log.Named("seeder"))
	if err != nil {
		return nil, err
	}
	m.seeder = sd
	return m, nil
}

// Initialize reconciles on-disk state with the torrent tree and seeds
// everything that survived: every reconciled segment and manifest is
// classified and, when a chain completes, its prefix advertised. Persisted
// peer statistics are merged into the stats table.
func (m *Manager) Initialize() error {
	if m.peerDB != nil {
		records, err := m.peerDB.Peers()
		if err != nil {
			return err
		}
		m.sched.mu.Lock()
		for _, r := range records {
			rec := m.sched.table.Insert(r.Name)
			rec.SentInterests = r.SentInterests
			rec.ReceivedData = r.ReceivedData
		}
		m.sched.table.Sort()
		m.sched.mu.Unlock()
	}

	if err := m.store.Reconcile(); err != nil {
		return err
	}
	for _, seg := range m.store.Segments() {
		m.seeder.seed(seg.FullName())
	}
	for _, man := range m.store.Manifests() {
		m.seeder.seed(man.FullName())
	}
	return nil
}

// DownloadTorrent fetches the remainder of the torrent-file segment chain.
// onManifests is invoked once per received segment with the manifest names
// it catalogs; if the chain is already complete it is invoked once with, for
// every file, the manifest name to resume from.
func (m *Manager) DownloadTorrent(onManifests NamesCallback, onFailed FailedCallback) {
	next := m.store.NextSegment()
	if next == nil {
		if onManifests != nil {
			onManifests(m.findManifestsToDownload())
		}
		return
	}
	f := &segmentFetcher{mgr: m, onManifests: onManifests, onFailed: onFailed}
	f.fetch(*next)
}

// DownloadManifest fetches the remainder of one file's sub-manifest chain,
// skipping ahead over sub-manifests already held, and delivers the
// accumulated data-packet names. If the whole chain is held it delivers the
// file's missing packet names synchronously.
func (m *Manager) DownloadManifest(name ndn.Name, onPackets NamesCallback, onFailed FailedCallback) {
	next := m.nextManifestName(name)
	if next == nil {
		if onPackets != nil {
			onPackets(m.store.MissingPackets(name))
		}
		return
	}
	f := &manifestFetcher{mgr: m, onPackets: onPackets, onFailed: onFailed}
	f.fetch(*next)
}

// DownloadPacket fetches one data packet. A packet already held completes
// synchronously without issuing a request.
func (m *Manager) DownloadPacket(name ndn.Name, onPacket NameCallback, onFailed FailedCallback) {
	if m.store.HasPacket(name) {
		if onPacket != nil {
			onPacket(name)
		}
		return
	}
	f := &packetFetcher{mgr: m, onPacket: onPacket, onFailed: onFailed}
	f.fetch(name)
}

// DownloadAll chains the three fetchers to pull everything the node lacks:
// the segment chain, every file's manifest chain, and the missing packets of
// those manifests. For a file whose manifest chain is partially held, only
// the catalogs of sub-manifests received from the chain break onward are
// requested; packets missing from the sub-manifests held before the break
// are not. Failures are reported per request; completion is observable via
// Done.
func (m *Manager) DownloadAll(onFailed FailedCallback) {
	m.DownloadTorrent(func(manifestNames []ndn.Name) {
		for _, manifestName := range manifestNames {
			m.DownloadManifest(manifestName, func(packetNames []ndn.Name) {
				for _, packetName := range packetNames {
					m.DownloadPacket(packetName, nil, onFailed)
				}
				m.maybeShutdown()
			}, onFailed)
		}
		m.maybeShutdown()
	}, onFailed)
	m.maybeShutdown()
}

// nextManifestName resolves which sub-manifest to request for a wanted
// manifest name: the name itself when nothing newer is held, the held
// chain's next pointer when the wanted sub-manifest is already covered
// (nil meaning the chain is complete).
func (m *Manager) nextManifestName(name ndn.Name) *ndn.Name {
	latest := m.store.LatestManifest(name)
	if latest == nil {
		return &name
	}
	wanted, err := name.WithoutDigest().Seq(-1)
	if err != nil {
		return &name
	}
	if latest.SubNumber() >= wanted {
		return latest.Next()
	}
	return &name
}

// findManifestsToDownload returns, for every file cataloged by the held
// segments, the manifest name to resume from: the next sub-manifest name to
// fetch, or the file's initial name when its chain is complete (which
// DownloadManifest resolves to the file's missing packets).
func (m *Manager) findManifestsToDownload() []ndn.Name {
	var out []ndn.Name
	for _, seg := range m.store.Segments() {
		for _, initial := range seg.Catalog() {
			if next := m.nextManifestName(initial); next != nil {
				out = append(out, *next)
			} else {
				out = append(out, initial)
			}
		}
	}
	return out
}

// maybeShutdown stops the node once nothing is queued or in flight, unless
// it is meant to stay up and seed.
func (m *Manager) maybeShutdown() {
	if m.seedOnly {
		return
	}
	if m.sched.idle() {
		m.Shutdown()
	}
}

// Shutdown stops the face and persists peer statistics. Outstanding
// continuations are abandoned.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() {
		m.log.Info("shutting down")
		if m.peerDB != nil {
			if err := m.peerDB.UpdatePeers(m.sched.peerRecords()); err != nil {
				m.log.Error("failed to persist peer statistics", zap.Error(err))
			}
		}
		m.face.Stop()
		close(m.done)
	})
}

// Done is closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} { return m.done }

// ErasePeer removes a peer from the stats table, e.g. when the membership
// subsystem learns the node's own routable prefix.
func (m *Manager) ErasePeer(prefix ndn.Name) { m.sched.erasePeer(prefix) }

// Peers snapshots the stats table.
func (m *Manager) Peers() []peers.Record { return m.sched.peerRecords() }

// Status snapshots download and seeding progress.
func (m *Manager) Status() Status {
	held, total := m.store.Progress()
	m.sched.mu.Lock()
	inFlight := m.sched.pending.size()
	m.sched.mu.Unlock()
	return Status{
		Torrent:      torrent.TorrentPrefix(m.initial).String(),
		Segments:     len(m.store.Segments()),
		Manifests:    len(m.store.Manifests()),
		PacketsHeld:  held,
		PacketsTotal: total,
		InFlight:     inFlight,
		Advertised:   m.seeder.prefixes(),
		SeedOnly:     m.seedOnly,
	}
}
