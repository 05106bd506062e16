package fifodev

// role identifies which side of the pipe a session belongs to.
type role int

const (
	producer role = iota
	consumer
)

// opposite returns the peer role: a producer's peer is a consumer and
// vice versa.
func (r role) opposite() role {
	if r == producer {
		return consumer
	}
	return producer
}

func (r role) String() string {
	if r == producer {
		return "producer"
	}
	return "consumer"
}

// sessions tracks how many producer and consumer handles are currently open.
// Pure bookkeeping; mutated only under the device lock.
type sessions struct {
	counts [2]int
}

func (s *sessions) open(r role) {
	s.counts[r]++
}

// close decrements the role's count, clamped at zero.
func (s *sessions) close(r role) {
	if s.counts[r] > 0 {
		s.counts[r]--
	}
}

func (s *sessions) count(r role) int {
	return s.counts[r]
}

// drained reports whether no sessions of either role remain open.
func (s *sessions) drained() bool {
	return s.counts[producer] == 0 && s.counts[consumer] == 0
}
