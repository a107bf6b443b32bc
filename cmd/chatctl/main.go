package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/chatsync/internal/client"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/paths"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
)

type cli struct {
	c       *client.Client
	jsonOut bool
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides CHATSYNC_PROFILE)")
	configFlag := flag.String("config", "", "config file (default ~/.chatsync/config.toml)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profile := paths.ResolveProfile(*profileFlag)
	if err := paths.ValidateProfile(profile); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = paths.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		fatal(err)
	}
	logger, err := logging.New(paths.ClientLogPath(profile), "chatctl", false)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.EnsureDaemon(ctx, cfg, *configFlag, logger); err != nil {
		fatal(err)
	}
	c, err := client.Open(ctx, client.Options{Profile: profile, Config: cfg, Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	app := &cli{c: c, jsonOut: *jsonFlag}
	rest := args[1:]
	switch args[0] {
	case "signup":
		err = app.signUp(ctx, rest)
	case "login":
		err = app.signIn(ctx, rest)
	case "logout":
		err = app.signOut()
	case "whoami", "status":
		err = app.whoami(ctx)
	case "list":
		err = app.list(ctx)
	case "search":
		err = app.search(ctx, rest)
	case "chat":
		err = app.chat(ctx, rest)
	case "send":
		err = app.send(ctx, rest)
	case "history":
		err = app.history(ctx, rest)
	case "watch":
		err = app.watch(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fatal(err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  signup <email> <password> <name>    Create an account")
	fmt.Fprintln(os.Stderr, "  login <email> <password>            Sign in")
	fmt.Fprintln(os.Stderr, "  logout                              Sign out")
	fmt.Fprintln(os.Stderr, "  whoami                              Show the signed-in user")
	fmt.Fprintln(os.Stderr, "  list                                List conversations")
	fmt.Fprintln(os.Stderr, "  search <prefix>                     Search users by name")
	fmt.Fprintln(os.Stderr, "  chat <user-id>                      Start or find a direct chat")
	fmt.Fprintln(os.Stderr, "  send [--file <path>] <conv> [text]  Send a message")
	fmt.Fprintln(os.Stderr, "  history [--pages <n>] <conv>        Print recent messages")
	fmt.Fprintln(os.Stderr, "  watch [conv]                        Follow conversations until interrupted")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return fmt.Errorf("usage: chatctl %s", usage)
	}
	return nil
}

func (a *cli) signUp(ctx context.Context, args []string) error {
	if err := need(args, 3, "signup <email> <password> <name>"); err != nil {
		return err
	}
	u, err := a.c.Identity.SignUp(ctx, args[0], args[1], strings.Join(args[2:], " "))
	if err != nil {
		return err
	}
	a.printUser(u.UID, u.Email)
	return nil
}

func (a *cli) signIn(ctx context.Context, args []string) error {
	if err := need(args, 2, "login <email> <password>"); err != nil {
		return err
	}
	u, err := a.c.Identity.SignIn(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	a.printUser(u.UID, u.Email)
	return nil
}

func (a *cli) signOut() error {
	if err := a.c.Identity.SignOut(); err != nil {
		return err
	}
	if !a.jsonOut {
		fmt.Println("Signed out.")
	}
	return nil
}

func (a *cli) printUser(uid, email string) {
	if a.jsonOut {
		outputJSON(map[string]string{"uid": uid, "email": email})
		return
	}
	fmt.Printf("User:  %s\n", uid)
	fmt.Printf("Email: %s\n", email)
}

func (a *cli) whoami(ctx context.Context) error {
	u, ok := a.c.Identity.CurrentUser()
	if !ok {
		return errors.New("not signed in, run chatctl login")
	}
	p, err := a.c.Core.Profile(ctx, u.UID)
	if err != nil {
		return err
	}
	if a.jsonOut {
		outputJSON(map[string]any{"uid": u.UID, "email": u.Email, "displayName": p.DisplayName, "expiresAt": u.ExpiresAt})
		return nil
	}
	fmt.Printf("Profile: %s\n", a.c.Profile)
	fmt.Printf("User:    %s (%s)\n", p.DisplayName, u.UID)
	fmt.Printf("Email:   %s\n", u.Email)
	fmt.Printf("Expires: %s\n", u.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// connect brings the core up for commands that work on conversations.
func (a *cli) connect(ctx context.Context) (string, error) {
	u, ok := a.c.Identity.CurrentUser()
	if !ok {
		return "", errors.New("not signed in, run chatctl login")
	}
	if err := a.c.Core.Connect(ctx); err != nil {
		return "", err
	}
	return u.UID, nil
}

func (a *cli) list(ctx context.Context) error {
	self, err := a.connect(ctx)
	if err != nil {
		return err
	}
	convs := a.c.Core.Conversations()
	if a.jsonOut {
		outputJSON(convs)
		return nil
	}
	for _, conv := range convs {
		fmt.Println(a.conversationLine(ctx, conv, self))
	}
	return nil
}

func (a *cli) conversationLine(ctx context.Context, conv model.Conversation, self string) string {
	var names []string
	for _, p := range conv.Participants {
		if p == self {
			continue
		}
		if u, err := a.c.Core.Profile(ctx, p); err == nil && u.DisplayName != "" {
			names = append(names, u.DisplayName)
		} else {
			names = append(names, p)
		}
	}
	slices.Sort(names)
	line := fmt.Sprintf("%s  %-24s", conv.ID, strings.Join(names, ", "))
	if n := conv.Unread(self); n > 0 {
		line += fmt.Sprintf("  (%d unread)", n)
	}
	if conv.LastMessage != nil {
		line += "  " + preview(*conv.LastMessage)
	}
	return line
}

func (a *cli) search(ctx context.Context, args []string) error {
	if err := need(args, 1, "search <prefix>"); err != nil {
		return err
	}
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	users, err := a.c.Core.SearchUsers(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if a.jsonOut {
		outputJSON(users)
		return nil
	}
	for _, u := range users {
		fmt.Printf("%s  %-24s %s\n", u.ID, u.DisplayName, u.Presence)
	}
	return nil
}

func (a *cli) chat(ctx context.Context, args []string) error {
	if err := need(args, 1, "chat <user-id>"); err != nil {
		return err
	}
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	conv, err := a.c.Core.StartChat(ctx, args[0])
	if err != nil {
		return err
	}
	if a.jsonOut {
		outputJSON(conv)
		return nil
	}
	fmt.Println(conv.ID)
	return nil
}

func (a *cli) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	file := fs.String("file", "", "attach a local file")
	image := fs.Bool("image", false, "send the attachment as an image")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if err := need(args, 1, "send [--file <path>] <conv> [text]"); err != nil {
		return err
	}
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	cid, text := args[0], strings.Join(args[1:], " ")

	var (
		msg model.Message
		err error
	)
	if *file != "" {
		kind := model.KindFile
		if *image {
			kind = model.KindImage
		}
		msg, err = a.c.Core.SendAttachment(ctx, cid, *file, kind, text)
	} else {
		msg, err = a.c.Core.SendMessage(ctx, cid, model.Draft{Text: text, Kind: model.KindText})
	}
	if err != nil {
		return err
	}
	if a.jsonOut {
		outputJSON(msg)
		return nil
	}
	fmt.Println(msg.ID)
	return nil
}

func (a *cli) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	pages := fs.Int("pages", 0, "older pages to load after the live window")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if err := need(args, 1, "history [--pages <n>] <conv>"); err != nil {
		return err
	}
	if _, err := a.connect(ctx); err != nil {
		return err
	}
	cid := args[0]

	first := make(chan chatsync.MessagesUpdate, 1)
	dispose, err := a.c.Core.SubscribeToMessages(ctx, cid, func(u chatsync.MessagesUpdate) {
		select {
		case first <- u:
		default:
		}
	})
	if err != nil {
		return err
	}
	defer dispose()

	var u chatsync.MessagesUpdate
	select {
	case u = <-first:
	case <-ctx.Done():
		return ctx.Err()
	}
	if u.Err != nil {
		return u.Err
	}
	msgs := u.Messages
	for i := 0; i < *pages && a.c.Core.HasMore(cid); i++ {
		older, err := a.c.Core.LoadMore(ctx, cid)
		if err != nil {
			return err
		}
		msgs = append(msgs, older...)
	}

	if a.jsonOut {
		outputJSON(msgs)
		return nil
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		fmt.Println(a.messageLine(ctx, msgs[i]))
	}
	if a.c.Core.HasMore(cid) {
		fmt.Println("(older messages available, use --pages)")
	}
	return nil
}

// watch follows the conversation list, or one conversation's messages,
// until the context is cancelled.
func (a *cli) watch(ctx context.Context, args []string) error {
	self, err := a.connect(ctx)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		cid := args[0]
		seen := make(map[string]bool)
		dispose, err := a.c.Core.SubscribeToMessages(ctx, cid, func(u chatsync.MessagesUpdate) {
			if u.Err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", u.Err)
				return
			}
			for i := len(u.Messages) - 1; i >= 0; i-- {
				m := u.Messages[i]
				if m.Provisional() || seen[m.ID] {
					continue
				}
				seen[m.ID] = true
				if a.jsonOut {
					outputJSON(m)
				} else {
					fmt.Println(a.messageLine(ctx, m))
				}
			}
		})
		if err != nil {
			return err
		}
		defer dispose()
		<-ctx.Done()
		return nil
	}

	dispose, err := a.c.Core.SubscribeToConversationList(ctx, self, func(u chatsync.ConversationsUpdate) {
		if u.Err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", u.Err)
			return
		}
		if a.jsonOut {
			outputJSON(u)
			return
		}
		fmt.Printf("-- %s, %d unread\n", time.Now().Format("15:04:05"), u.TotalUnread)
		for _, conv := range u.Conversations {
			fmt.Println(a.conversationLine(ctx, conv, self))
		}
	})
	if err != nil {
		return err
	}
	defer dispose()
	<-ctx.Done()
	return nil
}

func (a *cli) messageLine(ctx context.Context, m model.Message) string {
	name := m.SenderID
	if u, err := a.c.Core.Profile(ctx, m.SenderID); err == nil && u.DisplayName != "" {
		name = u.DisplayName
	}
	return fmt.Sprintf("%s  %-16s %s  [%s]", m.Timestamp.Local().Format("2006-01-02 15:04"), name, preview(m), m.Status)
}

func preview(m model.Message) string {
	if m.Attachment != nil {
		label := "file"
		if m.Kind == model.KindImage {
			label = "image"
		}
		if m.Text != "" {
			return fmt.Sprintf("[%s: %s] %s", label, m.Attachment.FileName, m.Text)
		}
		return fmt.Sprintf("[%s: %s]", label, m.Attachment.FileName)
	}
	return m.Text
}
