package env

import (
	"os"
	"strings"
)

// GetEnvVar returns the trimmed value of an environment variable, or "" if unset
func GetEnvVar(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

// SetEnvVar sets an environment variable
func SetEnvVar(name string, value string) error {
	return os.Setenv(name, value)
}

// ConsumeEnvVar reads an environment variable and removes it from the process
// environment, so secrets passed this way do not linger for child processes
func ConsumeEnvVar(name string) string {
	value := GetEnvVar(name)
	_ = os.Unsetenv(name)
	return value
}
