package manager

import (
	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/torrent"
	"go.uber.org/zap"
)

type (
	// NamesCallback delivers a batch of names to download next: manifest
	// names per received torrent-file segment, or the accumulated packet
	// names of a completed manifest chain.
	NamesCallback func([]ndn.Name)

	// NameCallback delivers a completed data packet's name.
	NameCallback func(ndn.Name)

	// FailedCallback reports a terminally failed request.
	FailedCallback func(name ndn.Name, reason string)
)

// Fetchers are explicit state objects whose methods run on the face's event
// loop. All three share the same continuation skeleton: on success erase the
// pending entry, credit the peer, reset the failure counter, verify and
// persist, seed, post-process, pump the window, and shut down when idle in
// leech mode; on failure erase the pending entry, count the failure toward
// peer failover, report upward, pump, and run the same idle check.

// segmentFetcher walks the torrent-file segment chain.
type segmentFetcher struct {
	mgr         *Manager
	onManifests NamesCallback
	onFailed    FailedCallback
}

func (f *segmentFetcher) fetch(name ndn.Name) {
	f.mgr.sched.enqueue(name, f.handleData, f.handleFailure)
}

func (f *segmentFetcher) handleData(i ndn.Interest, d ndn.Data) {
	mgr := f.mgr
	mgr.sched.recordSuccess(i.Name)

	seg, err := torrent.DecodeSegment(d.Bytes)
	if err != nil {
		mgr.log.Debug("dropping invalid torrent segment", zap.Stringer("name", i.Name), zap.Error(err))
		if f.onFailed != nil {
			f.onFailed(i.Name, "invalid torrent segment")
		}
		mgr.sched.send()
		mgr.maybeShutdown()
		return
	}

	if ok, err := mgr.store.PersistSegment(seg); err != nil {
		mgr.log.Error("failed to persist torrent segment", zap.Stringer("name", seg.FullName()), zap.Error(err))
	} else if ok {
		mgr.seeder.seed(seg.FullName())
	}

	if f.onManifests != nil {
		f.onManifests(seg.Catalog())
	}
	if next := seg.Next(); next != nil {
		f.fetch(*next)
	}
	mgr.sched.send()
	mgr.maybeShutdown()
}

func (f *segmentFetcher) handleFailure(name ndn.Name, reason string) {
	mgr := f.mgr
	mgr.sched.recordFailure(name)
	if f.onFailed != nil {
		f.onFailed(name, reason)
	}
	mgr.sched.send()
	mgr.maybeShutdown()
}

// manifestFetcher walks one file's sub-manifest chain, accumulating the
// data-packet catalog across sub-manifests.
type manifestFetcher struct {
	mgr       *Manager
	packets   []ndn.Name
	onPackets NamesCallback
	onFailed  FailedCallback
}

func (f *manifestFetcher) fetch(name ndn.Name) {
	f.mgr.sched.enqueue(name, f.handleData, f.handleFailure)
}

func (f *manifestFetcher) handleData(i ndn.Interest, d ndn.Data) {
	mgr := f.mgr
	mgr.sched.recordSuccess(i.Name)

	m, err := torrent.DecodeManifest(d.Bytes)
	if err != nil {
		mgr.log.Debug("dropping invalid manifest", zap.Stringer("name", i.Name), zap.Error(err))
		if f.onFailed != nil {
			f.onFailed(i.Name, "invalid manifest")
		}
		mgr.sched.send()
		mgr.maybeShutdown()
		return
	}

	if ok, err := mgr.store.PersistManifest(m); err != nil {
		mgr.log.Error("failed to persist manifest", zap.Stringer("name", m.FullName()), zap.Error(err))
		if f.onFailed != nil {
			f.onFailed(i.Name, "write failed")
		}
	} else if ok {
		mgr.seeder.seed(m.FullName())
	}

	f.packets = append(f.packets, m.Catalog()...)
	if next := m.Next(); next != nil {
		f.fetch(*next)
	} else if f.onPackets != nil {
		f.onPackets(f.packets)
	}
	mgr.sched.send()
	mgr.maybeShutdown()
}

func (f *manifestFetcher) handleFailure(name ndn.Name, reason string) {
	mgr := f.mgr
	mgr.sched.recordFailure(name)
	if f.onFailed != nil {
		f.onFailed(name, reason)
	}
	mgr.sched.send()
	mgr.maybeShutdown()
}

// packetFetcher fetches a single data packet.
type packetFetcher struct {
	mgr      *Manager
	onPacket NameCallback
	onFailed FailedCallback
}

func (f *packetFetcher) fetch(name ndn.Name) {
	f.mgr.sched.enqueue(name, f.handleData, f.handleFailure)
}

func (f *packetFetcher) handleData(i ndn.Interest, d ndn.Data) {
	mgr := f.mgr
	mgr.sched.recordSuccess(i.Name)

	p, err := torrent.DecodePacket(d.Bytes)
	if err != nil {
		mgr.log.Debug("dropping invalid data packet", zap.Stringer("name", i.Name), zap.Error(err))
		if f.onFailed != nil {
			f.onFailed(i.Name, "invalid data packet")
		}
		mgr.sched.send()
		mgr.maybeShutdown()
		return
	}

	if ok, err := mgr.store.PersistPacket(p); err != nil {
		mgr.log.Error("failed to persist data packet", zap.Stringer("name", p.FullName()), zap.Error(err))
		if f.onFailed != nil {
			f.onFailed(i.Name, "write failed")
		}
		mgr.sched.send()
		mgr.maybeShutdown()
		return
	} else if ok {
		mgr.seeder.seed(p.FullName())
	}

	if f.onPacket != nil {
		f.onPacket(p.FullName())
	}
	mgr.sched.send()
	mgr.maybeShutdown()
}

func (f *packetFetcher) handleFailure(name ndn.Name, reason string) {
	mgr := f.mgr
	mgr.sched.recordFailure(name)
	if f.onFailed != nil {
		f.onFailed(name, reason)
	}
	mgr.sched.send()
	mgr.maybeShutdown()
}
