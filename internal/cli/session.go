package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"estately/internal/session"
)

var errNotSignedIn = errors.New("not signed in; run `estately login` first")

// openSession restores the persisted session into a new manager. The caller
// must Close the manager.
func openSession(ctx context.Context) (*session.Manager, session.State) {
	m := session.NewManager(client, session.WithLogger(logger))
	return m, m.Initialize(ctx)
}

// requireSession is openSession for commands that need a signed-in user.
func requireSession(ctx context.Context) (*session.Manager, session.State, error) {
	m, state := openSession(ctx)
	if !state.IsAuthenticated {
		m.Close()
		return nil, state, errNotSignedIn
	}
	return m, state, nil
}

// waitFor blocks until ready accepts the manager state or waitTimeout passes.
func waitFor(ctx context.Context, m *session.Manager, ready func(session.State) bool) (session.State, error) {
	ctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	state, err := m.Wait(ctx, ready)
	if err != nil {
		return state, fmt.Errorf("wait for session update: %w", err)
	}
	return state, nil
}

func signedInAs(email string) func(session.State) bool {
	return func(s session.State) bool {
		return s.User != nil && strings.EqualFold(s.User.Email, email)
	}
}

// prompter reads missing values from the command's input.
type prompter struct {
	out io.Writer
	in  *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	return &prompter{out: cmd.OutOrStdout(), in: bufio.NewReader(cmd.InOrStdin())}
}

// fill prompts for label when *value is empty.
func (p *prompter) fill(value *string, label string) error {
	if *value != "" {
		return nil
	}
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	*value = strings.TrimSpace(line)
	if *value == "" {
		return fmt.Errorf("%s cannot be empty", strings.ToLower(label))
	}
	return nil
}
