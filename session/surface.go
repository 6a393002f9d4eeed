package session

import "context"

// Presentation is what the host applies while privacy mode is engaged
type Presentation struct {
	Blur         bool
	GenericTitle string
	Cover        bool
	CoverText    string
}

// Surface is the host UI adapter driven by the policy
type Surface interface {
	Engage(p Presentation)
	Disengage()
}

// Locker is the engine side of session expiry
type Locker interface {
	Lock()
	Expire()
}

// Verifier proves user presence; used to dismiss a cover
type Verifier interface {
	Verify(ctx context.Context) (bool, error)
}

type Signal string

const (
	SignalPointer Signal = "pointer"
	SignalKey     Signal = "key"
	SignalScroll  Signal = "scroll"
	SignalTouch   Signal = "touch"
)

func (s Signal) Valid() bool {
	switch s {
	case SignalPointer, SignalKey, SignalScroll, SignalTouch:
		return true
	}
	return false
}

type nopSurface struct{}

func (nopSurface) Engage(Presentation) {}
func (nopSurface) Disengage()          {}
