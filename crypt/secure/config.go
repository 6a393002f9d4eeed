package secure

import (
	"strings"

	"github.com/oddbit-project/safekeep/utils/env"
	"github.com/oddbit-project/safekeep/utils/fs"
)

// DefaultCredentialConfig misc options for credentials
type DefaultCredentialConfig struct {
	Password       string `json:"password"`       // Password plaintext password; if set, is used instead of the rest
	PasswordEnvVar string `json:"passwordEnvVar"` // PasswordEnvVar name of env var with secret
	PasswordFile   string `json:"passwordFile"`   // PasswordFile name of secrets file, to be read; if none of the above set, this one is used
}

// IsEmpty returns true if credential source is empty
func (c DefaultCredentialConfig) IsEmpty() bool {
	return strings.TrimSpace(c.Password) == "" &&
		strings.TrimSpace(c.PasswordEnvVar) == "" &&
		strings.TrimSpace(c.PasswordFile) == ""
}

// Fetch retrieves the credential; an env var source is cleared after reading
func (c DefaultCredentialConfig) Fetch() (string, error) {
	if plainText := strings.TrimSpace(c.Password); plainText != "" {
		return plainText, nil
	}
	if envVar := strings.TrimSpace(c.PasswordEnvVar); envVar != "" {
		return env.ConsumeEnvVar(envVar), nil
	}
	if c.PasswordFile != "" {
		return fs.ReadString(c.PasswordFile)
	}
	return "", nil
}
