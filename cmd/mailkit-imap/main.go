// Command mailkit-imap is a minimal demo CLI wiring config.LoadConfig,
// logx, transport, and imap.Client together: connect, authenticate, list
// mailboxes, open one named mailbox, and optionally search it, printing
// the matching message numbers. It is the
// external "application-level CLI" collaborator spec §1 keeps out of the
// library's own scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ashgrovemail/mailkit/config"
	"github.com/ashgrovemail/mailkit/imap"
	"github.com/ashgrovemail/mailkit/logx"
	"github.com/ashgrovemail/mailkit/transport"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config YAML")
	mailbox := flag.String("mailbox", "INBOX", "mailbox to select after login")
	criteria := flag.String("search", "", "SEARCH criteria to run after SELECT (e.g. 'SINCE 1-Jan-2024')")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailkit-imap: load config:", err)
		os.Exit(1)
	}

	log := logx.NewConsole(cfg.LogLevel)
	ctx := context.Background()

	t := transport.New(transport.Timeouts{
		Connect: cfg.IMAP.ConnectTimeout,
		Read:    cfg.IMAP.ReadTimeout,
		Write:   cfg.IMAP.WriteTimeout,
	})
	client := imap.NewClient(t, log)

	if err := client.Connect(ctx, cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.UseTLS, nil); err != nil {
		fatal(log, "connect", err)
	}
	if client.Caps.StartTLS && !cfg.IMAP.UseTLS {
		if err := client.StartTLS(ctx, nil); err != nil {
			fatal(log, "starttls", err)
		}
	}
	if err := client.Authenticate(ctx, cfg.IMAP.Username, cfg.IMAP.Password, ""); err != nil {
		fatal(log, "authenticate", err)
	}
	if _, err := client.List(ctx, "", "*"); err != nil {
		fatal(log, "list", err)
	}

	var status *imap.MailboxStatus
	if cfg.IMAP.ReadOnlyMode {
		status, err = client.Examine(ctx, *mailbox)
	} else {
		status, err = client.Select(ctx, *mailbox)
	}
	if err != nil {
		fatal(log, "select/examine", err)
	}
	log.Info("mailbox %s: %d messages, %d recent", status.Name, status.Exists, status.Recent)

	if *criteria != "" {
		nums, err := client.Search(ctx, *criteria, cfg.IMAP.RecentSort, cfg.IMAP.SearchLimit)
		if err != nil {
			fatal(log, "search", err)
		}
		log.Info("search %q matched %d messages", *criteria, len(nums))
		for _, n := range nums {
			fmt.Println(n)
		}
	}

	if err := client.Logout(ctx); err != nil {
		log.Warn("logout: %v", err)
	}
}

func fatal(log logx.Logger, step string, err error) {
	log.Error("%s: %v", step, err)
	os.Exit(1)
}
