package config

import "github.com/oddbit-project/safekeep/utils"

const (
	ErrNoKey          = utils.Error("config key does not exist")
	ErrNotImplemented = utils.Error("config method or type not implemented")
	ErrInvalidType    = utils.Error("invalid destination type")
)

// ConfigProvider reads configuration values from a backing source
type ConfigProvider interface {
	Get(dest interface{}) error
	GetKey(key string, dest interface{}) error
	GetStringKey(key string) (string, error)
	GetBoolKey(key string) (bool, error)
	GetIntKey(key string) (int, error)
	GetSliceKey(key, separator string) ([]string, error)
	KeyExists(key string) bool
	KeyListExists(keys []string) bool
}

// Validator is implemented by configuration sections that can check themselves
type Validator interface {
	Validate() error
}

// ValidateAll runs Validate on every section, stopping at the first error
func ValidateAll(sections ...Validator) error {
	for _, s := range sections {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
