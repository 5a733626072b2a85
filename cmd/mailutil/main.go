// Command mailutil is a small demonstration CLI exercising the mailbox
// storage engines end to end: open, append, list, flag, expunge and
// sync against any of the three on-disk formats (design §2/§4.11).
//
// It intentionally does not use a CLI framework: command-line parsing
// is out of scope for the core library, and the standard flag package
// is enough for a demonstration binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mailutils-go/mailutils/internal/config"
	"github.com/mailutils-go/mailutils/internal/logging"
	"github.com/mailutils-go/mailutils/internal/mailbox"
	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
	"github.com/mailutils-go/mailutils/internal/mailbox/engines"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, locatorArg, rest := args[0], args[1], args[2:]

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	logging.InitLogging(&cfg.Logging)
	logger := logging.GetLogger()

	loc, err := mailbox.ParseLocator(locatorArg)
	if err != nil {
		log.Fatal(err)
	}

	reg := engines.NewRegistrar(cfg, logger)
	mb, err := reg.Open(loc)
	if err != nil {
		log.Fatal("failed to open mailbox:", err)
	}

	ctx := context.Background()
	openFlags := mailbox.OpenRead | mailbox.OpenWrite | mailbox.OpenCreate
	if err := mb.Open(ctx, openFlags); err != nil {
		log.Fatal("failed to open:", err)
	}
	defer mb.Close()

	switch cmd {
	case "list":
		err = runList(mb)
	case "append":
		err = runAppend(ctx, mb, rest)
	case "flag":
		err = runFlag(mb, rest)
	case "expunge":
		err = mb.Expunge(ctx)
	case "sync":
		err = mb.Sync(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: mailutil [-config path] <list|append|flag|expunge|sync> <locator> [args...]")
}

func runList(mb mailbox.Mailbox) error {
	fmt.Printf("count=%d uidvalidity=%d uidnext=%d recent=%d unseen=%d\n",
		mb.Count(), mb.UIDValidity(), mb.UIDNext(), mb.Recent(), mb.Unseen())
	for ord := 1; ord <= mb.Count(); ord++ {
		msg, err := mb.GetMessage(ord)
		if err != nil {
			return err
		}
		subject, _ := msg.Header("Subject")
		fmt.Printf("%d\tuid=%d\t%s\t%q\n", msg.Ordinal, msg.UID, flagLetters(msg.Flags), subject)
		msg.Unref()
	}
	return nil
}

func runAppend(ctx context.Context, mb mailbox.Mailbox, rest []string) error {
	if len(rest) != 1 {
		return fmt.Errorf("append: expected a message file path")
	}
	raw, err := os.ReadFile(rest[0])
	if err != nil {
		return err
	}
	headers, body := parseMessageFile(raw)
	msg := &mailbox.Message{
		Headers:  headers,
		Body:     body,
		Envelope: mailbox.Envelope{Date: time.Now()},
	}
	ordinal, uid, err := mb.Append(ctx, msg)
	if err != nil {
		return err
	}
	fmt.Printf("appended ordinal=%d uid=%d\n", ordinal, uid)
	return nil
}

func runFlag(mb mailbox.Mailbox, rest []string) error {
	if len(rest) != 2 {
		return fmt.Errorf("flag: expected <ordinal> <flags>")
	}
	var ordinal int
	if _, err := fmt.Sscanf(rest[0], "%d", &ordinal); err != nil {
		return fmt.Errorf("flag: bad ordinal %q: %w", rest[0], err)
	}
	flags, err := parseFlags(rest[1])
	if err != nil {
		return err
	}
	return mb.SetFlags(ordinal, flags)
}

// parseMessageFile splits raw RFC 822-ish content into a header block
// and body on the first blank line, the same rule each engine's own
// parseHeaders applies when scanning on disk.
func parseMessageFile(raw []byte) ([]mailbox.Header, []byte) {
	text := string(raw)
	idx := strings.Index(text, "\n\n")
	if idx < 0 {
		return nil, raw
	}
	headerBlock, body := text[:idx], text[idx+2:]

	var headers []mailbox.Header
	for _, line := range strings.Split(headerBlock, "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers = append(headers, mailbox.Header{
			Name:  name,
			Value: strings.TrimLeft(value, " \t"),
		})
	}
	return headers, []byte(body)
}

// parseFlags accepts a comma-separated list of flag names, e.g.
// "Seen,Answered".
func parseFlags(s string) (attr.Flags, error) {
	var f attr.Flags
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(name) {
		case "Seen":
			f |= attr.Seen
		case "Answered":
			f |= attr.Answered
		case "Flagged":
			f |= attr.Flagged
		case "Deleted":
			f |= attr.Deleted
		case "Draft":
			f |= attr.Draft
		case "Forwarded":
			f |= attr.Forwarded
		case "Recent":
			f |= attr.Recent
		case "":
			// allow a trailing/empty entry from a dangling comma
		default:
			return 0, fmt.Errorf("unknown flag %q", name)
		}
	}
	return f, nil
}

func flagLetters(f attr.Flags) string {
	letters := attr.Status(f) + attr.XStatus(f)
	if letters == "" {
		return "-"
	}
	return letters
}
