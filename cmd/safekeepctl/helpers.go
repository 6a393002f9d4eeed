package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/oddbit-project/safekeep"
	"github.com/oddbit-project/safekeep/config"
	"github.com/oddbit-project/safekeep/config/provider"
	"github.com/oddbit-project/safekeep/log"
	"github.com/oddbit-project/safekeep/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const secretEnv = "SAFEKEEP_SECRET"

var errSecretMismatch = errors.New("secrets do not match")

// loadConfig reads the --config file, if any, then the environment
func loadConfig() (*safekeep.Config, error) {
	var providers []config.ConfigProvider
	if configPath != "" {
		p, err := provider.NewFileProvider(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", configPath, err)
		}
		providers = append(providers, p)
	}
	providers = append(providers, provider.NewEnvProvider(safekeep.EnvPrefix, true))

	cfg, err := safekeep.LoadConfig(providers...)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err = log.Configure(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withCore opens the vault for the duration of fn
func withCore(cmd *cobra.Command, fn func(ctx context.Context, c *safekeep.Core) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := safekeep.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// unlock authenticates with a secret read from the terminal
func unlock(ctx context.Context, c *safekeep.Core) error {
	secret, err := readSecret("Master secret: ")
	if err != nil {
		return err
	}
	return c.Authenticate(ctx, secret, deviceAttributes())
}

func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if v, ok := os.LookupEnv(secretEnv); ok {
			return v, nil
		}
		return "", fmt.Errorf("cannot read secret: stdin is not a terminal and %s is unset", secretEnv)
	}
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return string(secret), nil
}

// readNewSecret asks twice when interactive
func readNewSecret() (string, error) {
	secret, err := readSecret("New master secret: ")
	if err != nil {
		return "", err
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return secret, nil
	}
	again, err := readSecret("Repeat master secret: ")
	if err != nil {
		return "", err
	}
	if again != secret {
		return "", errSecretMismatch
	}
	return secret, nil
}

// deviceAttributes describes the terminal this process runs on
func deviceAttributes() store.DeviceAttributes {
	attrs := store.DeviceAttributes{
		UserAgent: "safekeepctl (" + runtime.GOOS + "/" + runtime.GOARCH + ")",
		Timezone:  time.Local.String(),
		Language:  language(),
		Platform:  runtime.GOOS,
	}
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		attrs.ScreenResolution = fmt.Sprintf("%dx%d", w, h)
	}
	return attrs
}

func language() string {
	for _, key := range []string{"LC_ALL", "LANG"} {
		if v := os.Getenv(key); v != "" {
			v, _, _ = strings.Cut(v, ".")
			return strings.ReplaceAll(v, "_", "-")
		}
	}
	return ""
}
