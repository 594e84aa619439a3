package crawler

// State is the lifecycle state of a crawl
type State int32

const (
	Stopped State = iota
	Running
	Pausing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Pausing:
		return "pausing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// StateReader exposes the current state to expansion tasks. The crawler
// only reads it; transitions belong to whoever implements it.
type StateReader interface {
	State() State
}
