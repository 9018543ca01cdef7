package reactor

// Token names a registered I/O endpoint. It is unique within a Loop for its
// lifetime; zero means "none" and is never handed out by Register.
type Token uint64

// NoToken is the reserved "none" token value.
const NoToken Token = 0

// TimerToken names a pending timer. Disjoint namespace from Token.
type TimerToken uint64

// NoTimerToken is the reserved "none" timer token value.
const NoTimerToken TimerToken = 0

// Interest is the set of readiness events an endpoint wants to be notified
// of. It doubles as the "registered" set recorded by the Loop, and as the
// "got" readiness delivery recorded by endpoints themselves.
type Interest uint8

const (
	// None means "deregister and close" when used as an endpoint's Interest.
	None Interest = 0
	// Readable requests/reports read readiness.
	Readable Interest = 1 << (iota - 1)
	// Writable requests/reports write readiness.
	Writable
	// Error reports a poller-detected error condition. Never requested.
	Error
	// Hup reports peer hang-up. Never requested.
	Hup
)

// All is the interest set a fresh Stream or Listen registers with.
const All = Readable | Writable

func (i Interest) has(bit Interest) bool { return i&bit != 0 }

// IsReadable reports whether the readable bit is set.
func (i Interest) IsReadable() bool { return i.has(Readable) }

// IsWritable reports whether the writable bit is set.
func (i Interest) IsWritable() bool { return i.has(Writable) }

// IsError reports whether the error bit is set.
func (i Interest) IsError() bool { return i.has(Error) }

// IsHup reports whether the hangup bit is set.
func (i Interest) IsHup() bool { return i.has(Hup) }
