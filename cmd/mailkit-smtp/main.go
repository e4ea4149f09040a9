// Command mailkit-smtp is a minimal demo CLI wiring config.LoadConfig,
// logx, transport, smtp.Client, and mime.SMTPMessage together to submit a
// plain-text message. It is the external "application-level CLI"
// collaborator spec §1 keeps out of the library's own scope.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ashgrovemail/mailkit/config"
	"github.com/ashgrovemail/mailkit/logx"
	"github.com/ashgrovemail/mailkit/mime"
	"github.com/ashgrovemail/mailkit/smtp"
	"github.com/ashgrovemail/mailkit/transport"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config YAML")
	from := flag.String("from", "", "envelope sender")
	to := flag.String("to", "", "comma-free single recipient")
	subject := flag.String("subject", "mailkit test", "Subject header")
	body := flag.String("body", "Sent by mailkit-smtp.", "text/plain body")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mailkit-smtp: load config:", err)
		os.Exit(1)
	}
	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, "mailkit-smtp: -from and -to are required")
		os.Exit(2)
	}

	log := logx.NewConsole(cfg.LogLevel)
	ctx := context.Background()

	t := transport.New(transport.Timeouts{
		Connect: cfg.SMTP.ConnectTimeout,
		Read:    cfg.SMTP.ReadTimeout,
		Write:   cfg.SMTP.WriteTimeout,
	})
	client := smtp.NewClient(t, log)

	if err := client.Connect(ctx, cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.UseTLS, nil); err != nil {
		fatal(log, "connect", err)
	}
	if err := client.Greet(ctx, cfg.SMTP.Domain); err != nil {
		fatal(log, "ehlo", err)
	}
	if client.Caps.StartTLS && !cfg.SMTP.UseTLS {
		if err := client.StartTLS(ctx, cfg.SMTP.Domain, nil); err != nil {
			fatal(log, "starttls", err)
		}
	}
	if cfg.SMTP.Username != "" {
		if err := client.Authenticate(ctx, cfg.SMTP.Username, cfg.SMTP.Password, ""); err != nil {
			fatal(log, "authenticate", err)
		}
	}

	msg := &mime.SMTPMessage{
		From: *from,
		To:   []string{*to},
		Text: mime.BodyPart{
			ContentType: "text/plain",
			Charset:     "utf-8",
			Source:      mime.Source{Kind: mime.SourceString, Text: *body},
		},
	}
	msg.AddHeader("Subject", *subject)

	if err := client.Send(ctx, msg, smtp.SendOptions{Domain: cfg.SMTP.Domain, QuitAfter: true}); err != nil {
		fatal(log, "send", err)
	}
	log.Info("message to %s sent", *to)
}

func fatal(log logx.Logger, step string, err error) {
	log.Error("%s: %v", step, err)
	os.Exit(1)
}
