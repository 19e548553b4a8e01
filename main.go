// Command pokerboy is a planning poker client.
//
// It supports these commands:
//  1. "serve" (default): connects to the poker server and exposes the REST API,
//     the websocket relay and an /mcp HTTP endpoint
//  2. "mcp": runs an MCP stdio server, reusing a running API or starting an internal one
//  3. "create" and "join": enter a session from the terminal and optionally watch it
//  4. "profiles": list or save configuration profiles
//
// Configuration comes from a TOML file or profile, then POKERBOY_* environment
// variables (a .env file is loaded first), then flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/pokerboy/game/config"
	"github.com/wricardo/pokerboy/game/service"
	"github.com/wricardo/pokerboy/game/session"
	"github.com/wricardo/pokerboy/observability"
	"github.com/wricardo/pokerboy/transport/phoenix"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "pokerboy"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "planning poker client with REST, websocket and MCP surfaces",
		Version: Version,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
			},
			&cli.StringFlag{
				Name:    "profile",
				Usage:   "profile name in --config-dir",
				Sources: cli.EnvVars(config.EnvPrefix + "PROFILE"),
			},
			&cli.StringFlag{
				Name:    "config-dir",
				Value:   defaultConfigDir(),
				Usage:   "directory holding <profile>.toml files",
				Sources: cli.EnvVars(config.EnvPrefix + "CONFIG_DIR"),
			},
			&cli.StringFlag{Name: "server-url", Usage: "poker server socket URL"},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "name shown to other participants"},
			&cli.StringFlag{Name: "secrets-dir", Usage: "where admin passwords are stored"},
			&cli.StringFlag{Name: "log-level", Usage: "trace, debug, info, warn or error"},
			&cli.BoolFlag{Name: "debug", Usage: "shorthand for --log-level debug"},
		}, serveFlags()...),
		Commands: []*cli.Command{
			serveCommand(),
			mcpCommand(),
			createCommand(),
			joinCommand(),
			profilesCommand(),
		},
		// Without a command the HTTP server runs, as before the CLI had commands
		Action: runServe,
	}
}

// configSource says where configuration is read from
type configSource struct {
	Path    string
	Profile string
	Dir     string

	// Flag overrides; empty means unset
	ServerURL  string
	Username   string
	SecretsDir string
	LogLevel   string
}

func configSourceFrom(cmd *cli.Command) configSource {
	src := configSource{
		Path:       cmd.String("config"),
		Profile:    cmd.String("profile"),
		Dir:        cmd.String("config-dir"),
		ServerURL:  cmd.String("server-url"),
		Username:   cmd.String("username"),
		SecretsDir: cmd.String("secrets-dir"),
		LogLevel:   cmd.String("log-level"),
	}
	if cmd.Bool("debug") {
		src.LogLevel = "debug"
	}
	return src
}

// resolveConfig layers file or profile, environment and flags
func resolveConfig(src configSource, lookup func(string) (string, bool)) (*config.Config, error) {
	var base *config.Config

	switch {
	case src.Path != "":
		cfg, err := config.Load(src.Path)
		if err != nil {
			return nil, err
		}
		base = cfg

	case src.Profile != "" || dirExists(src.Dir):
		manager, err := config.NewManager(src.Dir)
		if err != nil {
			return nil, err
		}
		if src.Profile != "" {
			base, err = manager.LoadConfig(src.Profile)
			if err != nil {
				return nil, err
			}
		} else {
			base = manager.GetDefault()
		}

	default:
		base = config.Default()
	}

	// Profiles are cached by the manager; never mutate the shared value
	cfg := *base

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}

	override := func(v string, dst *string) {
		if v != "" {
			*dst = v
		}
	}
	override(src.ServerURL, &cfg.ServerURL)
	override(src.Username, &cfg.Username)
	override(src.SecretsDir, &cfg.SecretsDir)
	override(src.LogLevel, &cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pokerboy", "profiles")
	}
	return filepath.Join(home, ".pokerboy", "profiles")
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// lookupEnv reads POKERBOY_* overrides
var lookupEnv = os.LookupEnv

// setup resolves configuration and installs the process logger
func setup(cmd *cli.Command) (*config.Config, zerolog.Logger, error) {
	cfg, err := resolveConfig(configSourceFrom(cmd), lookupEnv)
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level, err := observability.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := observability.InitLogger(AppName, level)
	return cfg, logger, nil
}

// runtime is one connection to the poker server and the layers above it
type runtime struct {
	cfg     *config.Config
	logger  zerolog.Logger
	socket  *phoenix.Socket
	secrets *session.FileSecretStore
	dir     *session.Directory
	service service.PokerService
}

func newRuntime(cfg *config.Config, logger zerolog.Logger) (*runtime, error) {
	secrets, err := session.NewFileSecretStore(cfg.SecretsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	socket := phoenix.NewSocket(cfg.ServerURL, phoenix.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            logger,
	})
	dir := session.NewDirectory(session.NewPhoenixTransport(socket), secrets, logger, cfg.DirectoryOptions())

	return &runtime{
		cfg:     cfg,
		logger:  logger,
		socket:  socket,
		secrets: secrets,
		dir:     dir,
		service: service.NewPokerService(dir, logger),
	}, nil
}

func (r *runtime) Close() error {
	return r.socket.Close()
}
