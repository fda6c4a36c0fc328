package ndn

import "time"

// DefaultLifetime is the interest lifetime attached to every outbound
// request.
const DefaultLifetime = 2 * time.Second

type (
	// A Delegation names which peer should serve a request.
	Delegation struct {
		Preference int
		Name       Name
	}

	// An Interest is a request for a named entity.
	Interest struct {
		Name           Name
		ForwardingHint []Delegation
		Lifetime       time.Duration
		MustBeFresh    bool
	}

	// A Data is a reply carrying a named entity. Name is the entity's full
	// name; Bytes is its encoded form.
	Data struct {
		Name  Name
		Bytes []byte
	}

	// A Nack is a network-level negative acknowledgement for an interest.
	Nack struct {
		Interest Interest
		Reason   string
	}

	// DataCallback is invoked when data arrives for an expressed interest.
	DataCallback func(Interest, Data)
	// FailureCallback is invoked when an expressed interest terminally
	// fails, e.g. its lifetime expires.
	FailureCallback func(Name, string)
	// NackCallback is invoked when an expressed interest is nacked.
	NackCallback func(Interest, Nack)
	// InterestCallback is invoked for incoming interests under a published
	// prefix.
	InterestCallback func(Interest)
	// RegisterCallback is invoked when a prefix registration succeeds.
	RegisterCallback func(Name)
	// RegisterFailedCallback is invoked when a prefix registration fails.
	RegisterFailedCallback func(Name, error)
)

// A Face is a connection to the name-based network. All callbacks are
// invoked serially on the face's event loop; for every expressed interest
// exactly one of onData or onFailure is invoked, at most once. A Nack is not
// terminal: the expressing side is expected to either re-express or let the
// lifetime lapse into onFailure.
type Face interface {
	Express(i Interest, onData DataCallback, onFailure FailureCallback, onNack NackCallback)
	Publish(prefix Name, onInterest InterestCallback, onRegistered RegisterCallback, onRegisterFailed RegisterFailedCallback)
	Put(d Data)
	Stop()
}

// NewInterest constructs an interest for name with the default lifetime and
// freshness requirement, delegated to the given peer.
func NewInterest(name, peer Name) Interest {
	return Interest{
		Name:           name,
		ForwardingHint: []Delegation{{Preference: 1, Name: peer}},
		Lifetime:       DefaultLifetime,
		MustBeFresh:    true,
	}
}
