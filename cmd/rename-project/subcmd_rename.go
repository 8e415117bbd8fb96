package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os/user"
	"strings"
	"sync"

	"gitlab.com/gitlab-org/rename-project/internal/config"
	"gitlab.com/gitlab-org/rename-project/internal/log"
	"gitlab.com/gitlab-org/rename-project/internal/models"
	"gitlab.com/gitlab-org/rename-project/internal/rename"
)

const renameCmdName = "rename"

var errRenameArgs = errors.New("expected exactly two arguments: OLD NEW")

type renameSubcommand struct {
	stdin       io.Reader
	w           io.Writer
	continueArg bool
	replication bool
}

func newRenameSubcommand(stdin io.Reader, w io.Writer) *renameSubcommand {
	return &renameSubcommand{stdin: stdin, w: w}
}

func (cmd *renameSubcommand) FlagSet() *flag.FlagSet {
	flags := flag.NewFlagSet(renameCmdName, flag.ContinueOnError)
	flags.BoolVar(&cmd.continueArg, "continue", false, "rename without asking for confirmation when the project owns many changes")
	flags.BoolVar(&cmd.replication, "replication", false, "the rename is replicated from another node: only move the repository")
	return flags
}

// positionalArgs returns OLD and NEW. Flags following them are parsed into flags.
func positionalArgs(flags *flag.FlagSet) (models.ProjectName, models.ProjectName, error) {
	args := flags.Args()
	if len(args) < 2 {
		return "", "", errRenameArgs
	}

	old, new := args[0], args[1]
	if err := flags.Parse(args[2:]); err != nil {
		return "", "", err
	}

	if flags.NArg() > 0 {
		return "", "", errRenameArgs
	}

	return models.ProjectName(old), models.ProjectName(new), nil
}

func (cmd *renameSubcommand) Exec(ctx context.Context, flags *flag.FlagSet, conf config.Config) error {
	const subCmd = progname + " " + renameCmdName

	old, new, err := positionalArgs(flags)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, conf)
	if err != nil {
		return fmt.Errorf("%s: %w", subCmd, err)
	}
	defer a.Close()

	req := rename.Request{
		Old:                         old,
		New:                         new,
		ContinueDespiteChangeVolume: cmd.continueArg,
		ReplicateOnly:               cmd.replication,
		// whoever runs the command has access to the node
		Admin: true,
		User:  currentUser(),
	}

	if err := a.renamer.Start(ctx, req, rename.NewWriterMonitor(cmd.w), newPromptConfirmer(cmd.stdin, cmd.w)); err != nil {
		if errors.Is(err, rename.ErrCancelled) {
			fmt.Fprintf(cmd.w, "%s: %v\n", subCmd, err)
			return nil
		}

		if rename.IsRevertFailure(err) {
			return fmt.Errorf("%s: manual recovery needed: %w", subCmd, err)
		}

		return fmt.Errorf("%s: fail: %w", subCmd, err)
	}

	fmt.Fprintf(cmd.w, "%s: OK (renamed %s to %s)\n", subCmd, old, new)
	return nil
}

func currentUser() log.AuditUser {
	u, err := user.Current()
	if err != nil {
		return log.AuditUser{}
	}
	return log.AuditUser{AccountID: u.Uid, UserName: u.Username}
}

// promptConfirmer asks the question on w and reads the answer from r.
type promptConfirmer struct {
	mu sync.Mutex
	r  *bufio.Reader
	w  io.Writer
}

func newPromptConfirmer(r io.Reader, w io.Writer) *promptConfirmer {
	return &promptConfirmer{r: bufio.NewReader(r), w: w}
}

func (c *promptConfirmer) Confirm(_ context.Context, question string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, "%s ", question)

	answer, err := c.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
