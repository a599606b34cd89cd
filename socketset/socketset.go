// Package socketset implements SocketSet (spec §4.5): a container that
// polls a heterogeneous set of Transport-driven sockets in round-robin and
// reclaims finished ones.
//
// Grounded on transport/supervisor.go's Supervisor: a slice of bound items
// with delete-when-done reclamation, adapted here from "one goroutine per
// listener run to completion" to "one round-robin Update() pass per
// member per tick", since the engine's concurrency model (§5) is
// single-threaded and cooperative, not goroutine-per-member.
package socketset

// Pollable is the capability an engine must expose to be held by a Set,
// mirroring transport.Transport's Bind/Listen/Stop/Close/Wait shape reduced
// to the cooperative-tick equivalent.
type Pollable interface {
	// Update drives one tick of work and reports whether it made progress.
	Update() bool
	// Done reports whether the member has nothing left to do: connection
	// closed, queue empty, no request in flight.
	Done() bool
}

// Closer is implemented by members the Set should release when it deletes
// them, in addition to simply dropping the reference.
type Closer interface {
	Close() error
}

type member struct {
	p              Pollable
	deleteWhenDone bool
}

// Set holds a mapping from Pollable members to a delete_when_done flag. Its
// zero value is ready to use.
type Set struct {
	members []member
}

// New constructs an empty Set.
func New() *Set {
	return &Set{}
}

// Add registers p. If deleteWhenDone is set, the Set removes (and, if p
// implements Closer, closes) p once p.Done() reports true.
func (s *Set) Add(p Pollable, deleteWhenDone bool) {
	s.members = append(s.members, member{p: p, deleteWhenDone: deleteWhenDone})
}

// Remove drops p from the set without closing it, if present.
func (s *Set) Remove(p Pollable) {
	for i := range s.members {
		if s.members[i].p == p {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return
		}
	}
}

// Len reports the number of members currently held.
func (s *Set) Len() int {
	return len(s.members)
}

// Update polls every member once, in iteration order, removing (and
// destroying, if owned) any delete_when_done member that has finished.
// Returns true if any member reported progress.
func (s *Set) Update() bool {
	progressed := false

	live := s.members[:0]
	for _, m := range s.members {
		if m.p.Update() {
			progressed = true
		}

		if m.deleteWhenDone && m.p.Done() {
			if c, ok := m.p.(Closer); ok {
				_ = c.Close()
			}

			continue
		}

		live = append(live, m)
	}
	s.members = live

	return progressed
}
