package engine

type State int

const (
	StateUninitialized State = iota
	StateSecretSet
	StateUnlocked
	StateLocked
	StateSessionExpired
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSecretSet:
		return "secret_set"
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateSessionExpired:
		return "session_expired"
	}
	return "unknown"
}
