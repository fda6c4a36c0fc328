package manager

import (
	"sync"

	"github.com/ndn-torrent/ntd/ndn"
	"github.com/ndn-torrent/ntd/peers"
	"github.com/ndn-torrent/ntd/update"
	"go.uber.org/zap"
)

// Tuning defaults. The window caps in-flight interests; the retry threshold
// counts consecutive failures before peer failover; the sorting interval is
// the number of interests between stats-table re-sorts.
const (
	DefaultWindowSize      = 50
	DefaultMaxRetries      = 5
	DefaultSortingInterval = 100
)

// The scheduler admits queued requests into the transport within the window
// and owns the peer cursor, the consecutive-failure counter, and the sorting
// cadence. Continuations run serially on the face's event loop; the mutex
// bridges the download kick and the status and peer snapshots, which run on
// other goroutines.
type scheduler struct {
	log    *zap.Logger
	face   ndn.Face
	table  *peers.Table
	update update.Handler

	windowSize      int
	maxRetries      int
	sortingInterval int

	mu             sync.Mutex
	queue          interestQueue
	pending        pendingMap
	retries        int
	sortingCounter int
}

func newScheduler(face ndn.Face, table *peers.Table, upd update.Handler, windowSize, maxRetries, sortingInterval int, log *zap.Logger) *scheduler {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if sortingInterval <= 0 {
		sortingInterval = DefaultSortingInterval
	}
	return &scheduler{
		log:             log,
		face:            face,
		table:           table,
		update:          upd,
		windowSize:      windowSize,
		maxRetries:      maxRetries,
		sortingInterval: sortingInterval,
		pending:         make(pendingMap),
	}
}

// enqueue pushes a request and pumps the window.
func (s *scheduler) enqueue(name ndn.Name, onData ndn.DataCallback, onFailure ndn.FailureCallback) {
	s.mu.Lock()
	s.queue.push(request{name: name, onData: onData, onFailure: onFailure})
	s.mu.Unlock()
	s.log.Debug("queued interest", zap.Stringer("name", name))
	s.send()
}

// send pops requests while the pending map is under the window, moving each
// into the pending map and handing it to the face with the nack handler
// attached.
func (s *scheduler) send() {
	for {
		s.mu.Lock()
		if s.pending.size() >= s.windowSize || s.queue.empty() {
			s.mu.Unlock()
			return
		}
		r := s.queue.pop()
		s.pending.insert(r)
		interest := s.newInterest(r.name)
		s.mu.Unlock()

		s.log.Debug("expressing interest", zap.Stringer("name", r.name))
		s.face.Express(interest, r.onData, r.onFailure, s.handleNack)
	}
}

// newInterest attaches a forwarding hint at the peer cursor and maintains
// the sorting cadence. Callers must hold mu.
func (s *scheduler) newInterest(name ndn.Name) ndn.Interest {
	cur := s.table.Current()
	var hint ndn.Name
	if cur != nil {
		hint = cur.Name
		cur.SentInterests++
	}

	s.sortingCounter++
	if s.sortingCounter >= s.sortingInterval {
		if s.update != nil && s.update.NeedsUpdate() && cur != nil {
			s.update.SendAlive(cur.Name)
		}
		s.sortingCounter = 0
		s.table.Sort()
		s.retries = 0
	}
	return ndn.NewInterest(name, hint)
}

// recordSuccess erases the pending entry, credits the current peer, and
// resets the consecutive-failure counter.
func (s *scheduler) recordSuccess(name ndn.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.erase(name)
	if cur := s.table.Current(); cur != nil {
		cur.ReceivedData++
	}
	s.retries = 0
}

// recordFailure erases the pending entry and advances the peer cursor once
// the consecutive-failure threshold is reached.
func (s *scheduler) recordFailure(name ndn.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.erase(name)
	s.retries++
	if s.retries >= s.maxRetries {
		s.table.Advance()
	}
}

// handleNack is the transport-level negative path: fail over the peer cursor
// if the nacked hint named it, then re-express the same request with a fresh
// hint, reusing the continuations from the pending map. The pending entry is
// retained.
func (s *scheduler) handleNack(i ndn.Interest, n ndn.Nack) {
	s.mu.Lock()
	r, ok := s.pending.lookup(i.Name)
	if !ok {
		s.mu.Unlock()
		s.log.Debug("dropping nack with no pending interest", zap.Stringer("name", i.Name))
		return
	}
	s.log.Debug("nack received", zap.Stringer("name", i.Name), zap.String("reason", n.Reason))

	if cur := s.table.Current(); cur != nil && len(i.ForwardingHint) > 0 &&
		cur.Name.Equal(i.ForwardingHint[0].Name) {
		s.table.Advance()
	}
	cur := s.table.Current()
	var hint ndn.Name
	if cur != nil {
		hint = cur.Name
		cur.SentInterests++
	}
	if s.update != nil && s.update.NeedsUpdate() && cur != nil {
		s.update.SendAlive(cur.Name)
	}
	s.mu.Unlock()

	s.log.Debug("re-expressing interest", zap.Stringer("name", i.Name), zap.Stringer("hint", hint))
	s.face.Express(ndn.NewInterest(i.Name, hint), r.onData, r.onFailure, s.handleNack)
}

// idle reports whether no requests are queued or in flight.
func (s *scheduler) idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.size() == 0 && s.queue.empty()
}

// peerRecords snapshots the stats table.
func (s *scheduler) peerRecords() []peers.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.table.Records()
	out := make([]peers.Record, 0, len(records))
	for _, r := range records {
		out = append(out, *r)
	}
	return out
}

// erasePeer removes a peer from the stats table, resetting the cursor and
// the consecutive-failure counter.
func (s *scheduler) erasePeer(prefix ndn.Name) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.table.Erase(prefix) {
		s.log.Debug("erased peer from stats table", zap.Stringer("prefix", prefix))
	}
	s.retries = 0
}
