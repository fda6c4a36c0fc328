package manager

import (
	"github.com/ndn-torrent/ntd/ndn"
)

// A request is a pending outbound interest with its success and failure
// continuations.
type request struct {
	name      ndn.Name
	onData    ndn.DataCallback
	onFailure ndn.FailureCallback
}

// interestQueue is a strict FIFO of requests waiting for window admission.
// No deduplication.
type interestQueue struct {
	requests []request
}

func (q *interestQueue) push(r request) {
	q.requests = append(q.requests, r)
}

func (q *interestQueue) pop() request {
	r := q.requests[0]
	q.requests = q.requests[1:]
	return r
}

func (q *interestQueue) empty() bool { return len(q.requests) == 0 }

// pendingMap indexes in-flight request names to their continuations. A name
// has at most one entry; a request name is either queued or pending, never
// both.
type pendingMap map[string]request

func (p pendingMap) insert(r request) { p[r.name.String()] = r }

func (p pendingMap) lookup(n ndn.Name) (request, bool) {
	r, ok := p[n.String()]
	return r, ok
}

func (p pendingMap) erase(n ndn.Name) { delete(p, n.String()) }

func (p pendingMap) size() int { return len(p) }
