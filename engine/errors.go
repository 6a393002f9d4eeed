package engine

import (
	"github.com/oddbit-project/safekeep/store"
	"github.com/oddbit-project/safekeep/utils"
)

const (
	ErrWeakSecret               = utils.Error("secret does not meet the minimum strength")
	ErrWrongSecretOrCorruptData = utils.Error("secret incorrect or data corrupted")
	ErrLockedOut                = utils.Error("too many failed attempts; temporarily locked")
	ErrSchemaVersionUnsupported = utils.Error("unsupported record schema version")
	ErrPlatformUnsupported      = utils.Error("platform does not provide the required cryptographic primitives")
	ErrNotUnlocked              = utils.Error("session is not unlocked")
	ErrSecretAlreadySet         = utils.Error("master secret already configured")
	ErrNoSecret                 = utils.Error("no master secret configured")
	ErrInvalidConfig            = utils.Error("invalid engine configuration")

	ErrNoSuchRecord = store.ErrNotFound
)
