package agent

// Status is one of {clean, dirty, unpure}. A running
// non-pure process moves it to unpure; nothing currently moves it to dirty,
// but the value is kept distinct for a future caller to set.
type Status int

const (
	StatusClean Status = iota
	StatusDirty
	StatusUnpure
)

func (s Status) String() string {
	switch s {
	case StatusClean:
		return "clean"
	case StatusDirty:
		return "dirty"
	case StatusUnpure:
		return "unpure"
	default:
		return "clean"
	}
}

// TextStatus combines status with the stopping flag into the single textual
// status the /image route reports: stopping masks whatever status was.
func TextStatus(status Status, stopping bool) string {
	if stopping {
		return "stopping"
	}
	return status.String()
}
