package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"github.com/wricardo/pokerboy/game/config"
	"github.com/wricardo/pokerboy/game/service"
	"github.com/wricardo/pokerboy/game/session"
)

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "create a session and join it as admin",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "print state changes until interrupted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := strings.TrimSpace(cmd.Args().First())
			if name == "" {
				return fmt.Errorf("%w: session name is required", service.ErrInvalidInput)
			}
			return withRuntime(cmd, func(rt *runtime, out io.Writer) error {
				info, err := rt.service.CreateSession(ctx, name, rt.cfg.Username)
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "Created session %s as %s\n", info.ID, info.Username)
				if info.HasSecret {
					fmt.Fprintf(out, "Admin password stored in %s\n", rt.secrets.Dir())
				}
				return finish(ctx, rt, info.ID, cmd.Bool("watch"), out)
			})
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "join an existing session",
		ArgsUsage: "<session-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "vote", Usage: "vote right after joining"},
			&cli.StringFlag{Name: "password", Usage: "claim admin rights with this password"},
			&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "print state changes until interrupted"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			sessionID := strings.TrimSpace(cmd.Args().First())
			if sessionID == "" {
				return fmt.Errorf("%w: session id is required", service.ErrInvalidInput)
			}
			return withRuntime(cmd, func(rt *runtime, out io.Writer) error {
				info, err := rt.service.JoinSession(ctx, sessionID, rt.cfg.Username)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Joined session %s as %s\n", info.ID, info.Username)

				if password := cmd.String("password"); password != "" {
					if _, err := rt.service.BecomeAdmin(ctx, info.ID, password); err != nil {
						return err
					}
				}
				if vote := cmd.String("vote"); vote != "" {
					if _, err := rt.service.Vote(ctx, info.ID, vote); err != nil {
						return err
					}
					fmt.Fprintf(out, "Voted %s\n", vote)
				}
				return finish(ctx, rt, info.ID, cmd.Bool("watch"), out)
			})
		},
	}
}

func profilesCommand() *cli.Command {
	return &cli.Command{
		Name:  "profiles",
		Usage: "list configuration profiles",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			manager, err := config.NewManager(cmd.String("config-dir"))
			if err != nil {
				return err
			}
			profiles, err := manager.ListConfigs()
			if err != nil {
				return err
			}

			out := cmd.Root().Writer
			if len(profiles) == 0 {
				fmt.Fprintln(out, "No profiles found")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROFILE\tSERVER\tUSERNAME")
			for _, p := range profiles {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ProfileID, p.ServerURL, p.Username)
			}
			return tw.Flush()
		},
		Commands: []*cli.Command{
			{
				Name:      "save",
				Usage:     "save the resolved configuration as a profile",
				ArgsUsage: "<name>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					name := strings.TrimSpace(cmd.Args().First())
					if name == "" {
						return errors.New("profile name is required")
					}

					cfg, err := resolveConfig(configSourceFrom(cmd), lookupEnv)
					if err != nil {
						return err
					}
					cfg.Name = name

					dir := cmd.String("config-dir")
					if err := os.MkdirAll(dir, 0o755); err != nil {
						return fmt.Errorf("failed to create config dir: %w", err)
					}
					manager, err := config.NewManager(dir)
					if err != nil {
						return err
					}
					if err := manager.SaveConfig(name, cfg); err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().Writer, "Saved profile %s\n", name)
					return nil
				},
			},
		},
	}
}

// withRuntime connects for one terminal command and closes the connection after
func withRuntime(cmd *cli.Command, run func(rt *runtime, out io.Writer) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return fmt.Errorf("%w: username is required (--username or %sUSERNAME)", service.ErrInvalidInput, config.EnvPrefix)
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	return run(rt, cmd.Root().Writer)
}

// finish prints the state once, or keeps printing it until ctx ends or the
// connection drops
func finish(ctx context.Context, rt *runtime, sessionID string, watch bool, out io.Writer) error {
	if !watch {
		state, err := rt.service.GetState(ctx, sessionID)
		if err != nil {
			return err
		}
		printState(out, state)
		return nil
	}

	updates := make(chan session.Event, 16)
	unsubscribe, err := rt.service.Subscribe(sessionID, func(e session.Event) {
		select {
		case updates <- e:
		default:
			// A newer state follows; skipping one render is fine
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-updates:
			switch e := e.(type) {
			case session.StateChanged:
				fmt.Fprintln(out, "---")
				printState(out, service.NewStateView(e.State))
			case session.CurrentUserChanged:
				fmt.Fprintf(out, "You are now %s\n", e.Name)
			case session.Disconnected:
				return fmt.Errorf("connection lost: %v", e.Err)
			}
		}
	}
}

func printState(out io.Writer, state *service.StateView) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tVOTE")
	for _, p := range state.Players {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, role(p), voteLabel(p, state.Revealed))
	}
	for _, s := range state.Spectators {
		fmt.Fprintf(tw, "%s\t%s\t-\n", s.Name, role(s))
	}
	tw.Flush()

	if state.Summary != nil {
		fmt.Fprintf(out, "%d votes", state.Summary.Votes)
		if state.Summary.Average != nil {
			fmt.Fprintf(out, ", average %.2f", *state.Summary.Average)
		}
		if state.Summary.Consensus != "" {
			fmt.Fprintf(out, ", consensus %s", state.Summary.Consensus)
		}
		fmt.Fprintln(out)
	}
}

func role(u service.UserView) string {
	r := "spectator"
	if u.IsPlayer {
		r = "player"
	}
	if u.IsAdmin {
		r += ", admin"
	}
	return r
}

func voteLabel(u service.UserView, revealed bool) string {
	switch {
	case revealed && u.Vote != "":
		return u.Vote
	case u.HasVoted:
		return "voted"
	default:
		return "-"
	}
}
