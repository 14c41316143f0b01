// Package app assembles the recap command line client.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/burmeserecap/recap/internal/config"
	"github.com/burmeserecap/recap/internal/guard"
	"github.com/burmeserecap/recap/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

var (
	// ErrSignInRequired is returned by protected commands without a session.
	ErrSignInRequired = errors.New("not signed in: run `recap login` first")
	// ErrAdminRequired is returned by admin commands for regular users.
	ErrAdminRequired = errors.New("this command requires an administrator account")
)

const (
	requireAnnotation = "recap/require"
	requireUser       = "user"
	requireAdmin      = "admin"
)

// Env carries the process streams and the configuration source.
type Env struct {
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
	LoadConfig func(ctx context.Context) (config.Config, error)
}

func (e Env) withDefaults() Env {
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	if e.LoadConfig == nil {
		e.LoadConfig = config.Load
	}
	return e
}

// Run executes the CLI with args and releases everything it opened.
func Run(ctx context.Context, args []string, env Env) error {
	c := &cli{env: env.withDefaults()}
	defer c.close()

	root := c.rootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

type cli struct {
	env    Env
	output string
	deps   *Dependencies
	out    *printer
	input  *bufio.Reader
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:               "recap",
		Short:             "Turn YouTube videos into narrated recaps",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetIn(c.env.Stdin)
	root.SetOut(c.env.Stdout)
	root.SetErr(c.env.Stderr)
	root.PersistentFlags().StringVarP(&c.output, "output", "o", formatTable, "output format: table, json or yaml")

	root.AddCommand(
		c.loginCommand(),
		c.signupCommand(),
		c.logoutCommand(),
		c.whoamiCommand(),
		c.videosCommand(),
		c.creditsCommand(),
		c.adminCommand(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if !cmd.Runnable() || cmd.Name() == "help" || strings.HasPrefix(cmd.CommandPath(), "recap completion") {
		return nil
	}

	out, err := newPrinter(c.output, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	c.out = out

	ctx := cmd.Context()
	cfg, err := c.env.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(c.env.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	deps, err := buildDependencies(ctx, cfg, logger, c.env.Stderr)
	if err != nil {
		return err
	}
	c.deps = deps
	cmd.SetContext(logging.WithLogger(ctx, logger))

	return c.authorize(cmd)
}

// authorize runs the route guard for commands that declare a requirement.
func (c *cli) authorize(cmd *cobra.Command) error {
	need, ok := cmd.Annotations[requireAnnotation]
	if !ok {
		return nil
	}
	return c.check(cmd.Context(), need)
}

// check shows the stored account first and then revalidates it with the
// server.
func (c *cli) check(ctx context.Context, need string) error {
	c.deps.Session.LoadCached(ctx)
	decision := c.deps.Guard.Check(ctx, guard.Requirement{Admin: need == requireAdmin})
	switch decision.Outcome {
	case guard.Allow:
		return nil
	case guard.RedirectHome:
		return ErrAdminRequired
	default:
		return ErrSignInRequired
	}
}

func (c *cli) close() {
	if c.deps == nil {
		return
	}
	if err := c.deps.Close(context.Background()); err != nil {
		c.deps.Logger.Warn("release dependencies", "error", err)
	}
}

// prompt reads one line from stdin after writing label to stderr.
func (c *cli) prompt(label string) (string, error) {
	if c.input == nil {
		c.input = bufio.NewReader(c.env.Stdin)
	}
	fmt.Fprint(c.env.Stderr, label)
	line, err := c.input.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func requires(cmd *cobra.Command, need string) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[requireAnnotation] = need
	return cmd
}
