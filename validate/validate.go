// Command validate checks pokerboy profile files (<name>.toml) in a
// directory. It checks:
//   - TOML syntax and unknown keys
//   - Field values (server URL scheme, durations, port range, log level)
//   - Settings that work but are likely mistakes, reported as warnings
//   - With --probe, that the poker server accepts a socket connection
package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/pokerboy/game/config"
	"github.com/wricardo/pokerboy/transport/phoenix"
)

// ValidationResult captures the outcome of validating a single file.
// Notes holds warnings when Valid is true and errors otherwise.
type ValidationResult struct {
	File  string
	Valid bool
	Notes []string
}

// validateProfile loads and checks a single profile file
func validateProfile(filePath string) (ValidationResult, *config.Config) {
	result := ValidationResult{
		File:  filepath.Base(filePath),
		Valid: true,
		Notes: []string{},
	}

	cfg, err := config.Load(filePath)
	if err != nil {
		result.Valid = false
		result.Notes = append(result.Notes, err.Error())
		return result, nil
	}

	result.Notes = append(result.Notes, warnings(cfg)...)
	return result, cfg
}

// warnings lists settings that load fine but are likely mistakes
func warnings(cfg *config.Config) []string {
	var notes []string

	if strings.TrimSpace(cfg.Username) == "" {
		notes = append(notes, "no username: every command will need --username")
	}

	if u, err := url.Parse(cfg.ServerURL); err == nil {
		host := u.Hostname()
		local := host == "localhost" || host == "127.0.0.1" || host == "::1"
		if (u.Scheme == "ws" || u.Scheme == "http") && !local {
			notes = append(notes, fmt.Sprintf("unencrypted connection to %s: admin passwords travel in clear text", host))
		}
	}

	if window := cfg.JoinPollInterval * time.Duration(cfg.JoinMaxAttempts); window < 100*time.Millisecond {
		notes = append(notes, fmt.Sprintf("join window of %s is short for a remote server", window))
	}

	if cfg.HeartbeatInterval > time.Minute {
		notes = append(notes, fmt.Sprintf("heartbeat every %s may let proxies drop the idle socket", cfg.HeartbeatInterval))
	}

	return notes
}

// probeServer opens and closes a socket connection to the configured server
func probeServer(ctx context.Context, cfg *config.Config, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	socket := phoenix.NewSocket(cfg.ServerURL, phoenix.Options{Logger: zerolog.Nop()})
	if err := socket.Connect(ctx); err != nil {
		return err
	}
	return socket.Close()
}

// validateDir validates every profile in dir and reports whether all are valid
func validateDir(ctx context.Context, dir string, probe bool, timeout time.Duration, out io.Writer) (bool, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.toml"))
	if err != nil {
		return false, fmt.Errorf("error finding profile files: %w", err)
	}
	if len(files) == 0 {
		return false, fmt.Errorf("no profiles found in %s", dir)
	}
	sort.Strings(files)

	allValid := true
	for _, file := range files {
		result, cfg := validateProfile(file)
		if result.Valid && probe {
			if err := probeServer(ctx, cfg, timeout); err != nil {
				result.Valid = false
				result.Notes = append(result.Notes, fmt.Sprintf("server %s unreachable: %v", cfg.ServerURL, err))
			} else {
				result.Notes = append(result.Notes, fmt.Sprintf("✓ server %s reachable", cfg.ServerURL))
			}
		}

		fmt.Fprintf(out, "\n%s %s\n", strings.Repeat("=", 20), result.File)
		if result.Valid {
			fmt.Fprintln(out, "✅ VALID")
			for _, note := range result.Notes {
				fmt.Fprintln(out, "  "+note)
			}
		} else {
			fmt.Fprintln(out, "❌ INVALID")
			allValid = false
			for _, note := range result.Notes {
				fmt.Fprintln(out, "  ❌ "+note)
			}
		}
	}

	fmt.Fprintf(out, "\n%s\n", strings.Repeat("=", 40))
	if allValid {
		fmt.Fprintln(out, "✅ All profiles are valid!")
	} else {
		fmt.Fprintln(out, "❌ Some profiles have errors")
	}
	return allValid, nil
}

func defaultProfileDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pokerboy", "profiles")
	}
	return filepath.Join(home, ".pokerboy", "profiles")
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check pokerboy profile files",
		ArgsUsage: "[dir]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "probe", Usage: "also connect to each profile's server"},
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "probe timeout"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.Args().First()
			if dir == "" {
				dir = defaultProfileDir()
			}

			ok, err := validateDir(ctx, dir, cmd.Bool("probe"), cmd.Duration("timeout"), cmd.Root().Writer)
			if err != nil {
				return err
			}
			if !ok {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
