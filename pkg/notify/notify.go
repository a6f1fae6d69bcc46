// Package notify implements the NotificationSink §12 names as an
// external collaborator: a two-method interface the CleanseOrchestrator
// calls to announce a finished report, plus two concrete
// implementations — a log-only sink for local/dev use (grounded on
// `pkg/log`'s component-logger style) and a minimal SMTP-backed sink
// for the real deployment. No corpus repo sends mail, so the SMTP
// sink is the stdlib-justified exception: nothing in the pack offers
// a mail client, and the two-method contract is too small to warrant
// pulling in a full mail-provider SDK.
package notify

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"

	"github.com/litp/platform/pkg/log"
)

// Sink is the NotificationSink contract.
type Sink interface {
	// SendReport announces that a cleanse report is ready at url.
	SendReport(ctx context.Context, url string) error
	// SendTest sends a connectivity-check message to addr.
	SendTest(ctx context.Context, addr string) error
}

// LogSink just logs; used where no real mail gateway is configured.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.WithComponent("notify")}
}

func (s *LogSink) SendReport(ctx context.Context, url string) error {
	s.logger.Info().Str("report_url", url).Msg("cleanse report ready")
	return nil
}

func (s *LogSink) SendTest(ctx context.Context, addr string) error {
	s.logger.Info().Str("addr", addr).Msg("test notification")
	return nil
}

// SMTPConfig configures SMTPSink.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPSink sends mail through a plain SMTP relay.
type SMTPSink struct {
	cfg    SMTPConfig
	logger zerolog.Logger
	// sendMail is swappable in tests; defaults to smtp.SendMail.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSink builds an SMTPSink.
func NewSMTPSink(cfg SMTPConfig) *SMTPSink {
	return &SMTPSink{cfg: cfg, logger: log.WithComponent("notify"), sendMail: smtp.SendMail}
}

func (s *SMTPSink) SendReport(ctx context.Context, url string) error {
	subject := "Cleanse analysis report ready"
	body := fmt.Sprintf("The latest data-quality cleanse report is available at:\n\n%s\n", url)
	if err := s.send(subject, body); err != nil {
		s.logger.Error().Err(err).Msg("failed to send cleanse report notification")
		return err
	}
	return nil
}

func (s *SMTPSink) SendTest(ctx context.Context, addr string) error {
	subject := "Test notification"
	body := fmt.Sprintf("This is a test notification sent to %s.\n", addr)
	single := *s
	single.cfg.To = []string{addr}
	return single.send(subject, body)
}

func (s *SMTPSink) send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.cfg.From, joinAddrs(s.cfg.To), subject, body))
	return s.sendMail(addr, auth, s.cfg.From, s.cfg.To, msg)
}

func joinAddrs(addrs []string) string {
	out := ""
	for i, a := range addrs {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}
