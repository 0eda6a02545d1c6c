package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"depot-chat/internal/api"
	"depot-chat/internal/chat"
	"depot-chat/internal/config"
	"depot-chat/internal/export"
	"depot-chat/internal/session"
	"depot-chat/internal/ui"
)

func newRootCmd(cfg *config.AppConfig) *cobra.Command {
	var a *app
	var start string

	root := &cobra.Command{
		Use:           "depotchat",
		Short:         "Chat with the depot, distillery and user assistants",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = openApp(cfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("the chat screen needs a terminal; try `depotchat ask` or `depotchat history`")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runTUI(ctx, start)
		},
	}
	cfg.BindFlags(root.PersistentFlags())
	root.Flags().StringVar(&start, "open", ui.PathRoot, "screen path to open (/, /login, /chat)")

	appRef := func() *app { return a }
	root.AddCommand(
		newLoginCmd(appRef),
		newLogoutCmd(appRef),
		newStatusCmd(appRef),
		newAskCmd(appRef),
		newHistoryCmd(appRef),
		newExportCmd(appRef),
	)
	return root
}

func newLoginCmd(a func() *app) *cobra.Command {
	var form session.LoginForm
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in without opening the chat screen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			role, userCode, errs := session.ValidateLogin(form)
			if !errs.Empty() {
				var msgs []string
				for _, m := range []string{errs.Role, errs.UserCode} {
					if m != "" {
						msgs = append(msgs, m)
					}
				}
				return errors.New(strings.Join(msgs, "; "))
			}
			if err := a().store.Login(cmd.Context(), userCode, role); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s %s\n", role.Label(), userCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&form.Role, "role", "", "depot, distillery or user")
	cmd.Flags().StringVar(&form.UserCode, "user-code", "", "user id (not used by the user role)")
	return cmd
}

func newLogoutCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a().store.Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newStatusCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := a()
			out := cmd.OutOrStdout()
			state := deps.store.Current()
			if !state.LoggedIn() {
				fmt.Fprintln(out, "Not signed in")
				return nil
			}
			fmt.Fprintf(out, "role: %s\n", state.Role)
			if state.UserCode != "" {
				fmt.Fprintf(out, "usercode: %s\n", state.UserCode)
			}
			if !state.Role.HasHistory() {
				return nil
			}
			at, ok, err := deps.store.LastHistoryFetch(cmd.Context(), state.UserCode)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "history fetched: %s\n", at.Local().Format(time.RFC3339))
			} else {
				fmt.Fprintln(out, "history fetched: never")
			}
			return nil
		},
	}
}

func newAskCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one text message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := a()
			if _, err := deps.requireLogin(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), deps.cfg.Timeout+time.Second)
			defer cancel()

			conv := chat.NewConversation()
			composer := chat.NewComposer(conv, deps.api, deps.store, deps.log.Named("chat"))
			composer.SetPending(strings.Join(args, " "))
			send, ok := composer.BeginText()
			if !ok {
				return errors.New("message is empty")
			}
			if err := send.Do(ctx); err != nil {
				return errors.New(api.UserMessage(err))
			}
			reply, _ := conv.LastAssistant()
			fmt.Fprintln(cmd.OutOrStdout(), reply.Content)
			return nil
		},
	}
}

func newHistoryCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the stored conversation history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := fetchHistory(cmd.Context(), a())
			if err != nil {
				return err
			}
			printMessages(cmd.OutOrStdout(), msgs)
			return nil
		},
	}
}

func newExportCmd(a func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the stored history to a markdown file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			deps := a()
			msgs, err := fetchHistory(cmd.Context(), deps)
			if err != nil {
				return err
			}
			exp, err := export.New(deps.cfg.ExportDir)
			if err != nil {
				return err
			}
			path, err := exp.Export(deps.store.Current(), msgs, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported: %s\n", path)
			return nil
		},
	}
}

// fetchHistory always asks the backend; the fetch-once rule only applies to
// the chat screen.
func fetchHistory(ctx context.Context, deps *app) ([]chat.Message, error) {
	state, err := deps.requireLogin()
	if err != nil {
		return nil, err
	}
	if !state.Role.HasHistory() {
		return nil, fmt.Errorf("the %s role keeps no history", state.Role)
	}
	rows, err := deps.api.History(ctx, state.UserCode)
	if err != nil {
		deps.log.Warn("history", zap.Error(err))
		return nil, fmt.Errorf("%s: %s", chat.HistoryFailed, api.UserMessage(err))
	}
	return chat.TransformHistory(rows), nil
}

func printMessages(w io.Writer, msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, chat.EmptyHistoryText)
		return
	}
	for _, m := range msgs {
		who := "you"
		if m.Sender == chat.SenderAssistant {
			who = "assistant"
		}
		when := ""
		if t := m.Time(); !t.IsZero() {
			when = t.Local().Format("2006-01-02 15:04") + " "
		}
		fmt.Fprintf(w, "%s%s: %s\n", when, who, m.Content)
	}
}
