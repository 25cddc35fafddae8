// Command mailstored wires a configured backend into the session layer and
// exposes a handful of administrative subcommands for exercising it
// directly, without an IMAP front-end. Its subcommand dispatch is a
// trimmed-down version of mox's own cmd/main.go: a small words-matched
// command table instead of a purpose-built framework, since this tool has a
// handful of operations, not mox's hundred-odd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/inkwell/mailstore/backend/boltstore"
	"github.com/inkwell/mailstore/backend/maildirstore"
	"github.com/inkwell/mailstore/backend/sqlstore"
	"github.com/inkwell/mailstore/config"
	"github.com/inkwell/mailstore/mlog"
	"github.com/inkwell/mailstore/session"
	"github.com/inkwell/mailstore/store"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mailstored [-config path] <command> [args...]")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "\tversion")
	fmt.Fprintln(os.Stderr, "\tmailbox create owner path")
	fmt.Fprintln(os.Stderr, "\tmailbox rename owner oldpath newpath")
	fmt.Fprintln(os.Stderr, "\tmailbox list owner")
	fmt.Fprintln(os.Stderr, "\tdeliver owner path file")
	fmt.Fprintln(os.Stderr, "\tserve")
	os.Exit(2)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "mailstore.conf", "path to mailstore.conf")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	if args[0] == "version" {
		fmt.Println("mailstored (development)")
		return
	}

	cfg, err := config.ParseFile(configPath)
	if err != nil {
		fatal(err)
	}
	l := newLog(cfg)
	ctx := context.Background()

	switch cfg.Backend {
	case config.BackendBolt:
		b, err := boltstore.Open(ctx, cfg.Bolt.Path, l)
		if err != nil {
			fatal(err)
		}
		mgr := session.NewMailboxManager[int64](&boltstore.Factory{Backend: b}, b.Dispatcher, nil)
		dispatch(ctx, mgr, l, args)
	case config.BackendSQL:
		b, err := sqlstore.Open(ctx, cfg.SQL.Driver, cfg.SQL.DSN, l)
		if err != nil {
			fatal(err)
		}
		mgr := session.NewMailboxManager[int64](&sqlstore.Factory{Backend: b}, b.Dispatcher, nil)
		dispatch(ctx, mgr, l, args)
	case config.BackendMaildir:
		b, err := maildirstore.Open(ctx, cfg.Maildir.Root, l)
		if err != nil {
			fatal(err)
		}
		mgr := session.NewMailboxManager[string](&maildirstore.Factory{Backend: b}, b.Dispatcher, nil)
		dispatch(ctx, mgr, l, args)
	default:
		fatal(fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}

func newLog(cfg config.Config) *mlog.Log {
	levels := map[string]mlog.Level{}
	if lvl, ok := mlog.Levels[cfg.LogLevel]; ok {
		levels[""] = lvl
	}
	for pkg, lvl := range cfg.PackageLogLevels {
		if l, ok := mlog.Levels[lvl]; ok {
			levels[pkg] = l
		}
	}
	mlog.SetConfig(levels)
	return mlog.New("mailstored")
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "mailstored: %s\n", err)
	os.Exit(1)
}

// dispatch matches args against the fixed command table and runs the
// matching subcommand against mgr, generic over whichever backend main
// opened. Each subcommand function is itself generic for the same reason.
func dispatch[ID comparable](ctx context.Context, mgr *session.MailboxManager[ID], l *mlog.Log, args []string) {
	switch {
	case len(args) == 4 && args[0] == "mailbox" && args[1] == "create":
		cmdMailboxCreate(ctx, mgr, l, args[2], args[3])
	case len(args) == 5 && args[0] == "mailbox" && args[1] == "rename":
		cmdMailboxRename(ctx, mgr, l, args[2], args[3], args[4])
	case len(args) == 3 && args[0] == "mailbox" && args[1] == "list":
		cmdMailboxList(ctx, mgr, l, args[2])
	case len(args) == 4 && args[0] == "deliver":
		cmdDeliver(ctx, mgr, l, args[1], args[2], args[3])
	case len(args) == 1 && args[0] == "serve":
		cmdServe(mgr)
	default:
		usage()
	}
}

func cmdMailboxCreate[ID comparable](ctx context.Context, mgr *session.MailboxManager[ID], l *mlog.Log, owner, path string) {
	s := mgr.CreateSystemSession(owner, l)
	mgr.StartProcessingRequest(s)
	defer mgr.EndProcessingRequest(s)
	if err := mgr.CreateMailbox(ctx, path, s); err != nil {
		fatal(err)
	}
	fmt.Printf("created %s for %s\n", path, owner)
}

func cmdMailboxRename[ID comparable](ctx context.Context, mgr *session.MailboxManager[ID], l *mlog.Log, owner, oldPath, newPath string) {
	s := mgr.CreateSystemSession(owner, l)
	mgr.StartProcessingRequest(s)
	defer mgr.EndProcessingRequest(s)
	if err := mgr.RenameMailbox(ctx, oldPath, newPath, s); err != nil {
		fatal(err)
	}
	fmt.Printf("renamed %s to %s for %s\n", oldPath, newPath, owner)
}

func cmdMailboxList[ID comparable](ctx context.Context, mgr *session.MailboxManager[ID], l *mlog.Log, owner string) {
	s := mgr.CreateSystemSession(owner, l)
	mgr.StartProcessingRequest(s)
	defer mgr.EndProcessingRequest(s)
	paths, err := mgr.List(ctx, s)
	if err != nil {
		fatal(err)
	}
	for _, p := range paths {
		fmt.Println(p)
	}
}

func cmdDeliver[ID comparable](ctx context.Context, mgr *session.MailboxManager[ID], l *mlog.Log, owner, path, file string) {
	body, err := os.ReadFile(file)
	if err != nil {
		fatal(err)
	}
	s := mgr.CreateSystemSession(owner, l)
	mgr.StartProcessingRequest(s)
	defer mgr.EndProcessingRequest(s)
	mm, err := mgr.GetMailbox(ctx, path, s)
	if err != nil {
		fatal(err)
	}
	uid, err := mm.AppendMessage(ctx, body, time.Now(), false, store.Flags{})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("delivered as uid %d\n", uid)
}

// cmdServe keeps the process alive with an opened backend, for smoke-testing
// a deployment's configuration; the IMAP wire protocol that would actually
// drive this engine is out of scope for this module (see spec's Non-goals).
func cmdServe[ID comparable](mgr *session.MailboxManager[ID]) {
	fmt.Println("mailstored: backend opened, idling (no wire protocol in this module)")
	select {}
}
