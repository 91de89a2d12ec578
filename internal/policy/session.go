// Package policy implements the mail transfer agent's policy delegation
// dialog: one key=value query per connection, answered with one verdict.
package policy

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/restmail/restmail-receiver/internal/metrics"
	"github.com/restmail/restmail-receiver/internal/validate"
)

// Verdict lines. The MTA understands a third action, DEFER_IF_PERMIT, but
// the pipeline never fails so the handler only ever emits OK or REJECT.
const (
	verdictOK     = "action=OK\n\n"
	verdictReject = "action=REJECT Domain not supported\n\n"
	verdictDefer  = "action=DEFER_IF_PERMIT Service temporarily unavailable\n\n"
)

// Session is one policy delegation connection. It reads key=value lines
// until a blank line, then answers with exactly one verdict and closes.
type Session struct {
	conn      net.Conn
	validator *validate.Validator
	timeout   time.Duration
}

// NewSession creates a policy session over conn. timeout bounds each read;
// zero disables the deadline.
func NewSession(conn net.Conn, validator *validate.Validator, timeout time.Duration) *Session {
	return &Session{conn: conn, validator: validator, timeout: timeout}
}

// Handle runs the dialog. The recipient key may repeat; the last
// occurrence wins. No input is read after the verdict is written.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	reader := bufio.NewReader(s.conn)
	var recipient string

	for {
		if s.timeout > 0 {
			if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
				slog.Error("failed to set connection deadline", "error", err)
				return
			}
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("policy read error", "error", err)
			}
			return
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			s.writeVerdict(ctx, recipient)
			return
		}

		if key, value, ok := strings.Cut(trimmed, "="); ok && key == "recipient" {
			recipient = value
		}
	}
}

func (s *Session) writeVerdict(ctx context.Context, recipient string) {
	verdict := verdictReject
	action := "reject"
	if s.validator.IsDeliverable(ctx, recipient) {
		verdict = verdictOK
		action = "ok"
	}

	if _, err := s.conn.Write([]byte(verdict)); err != nil {
		slog.Error("failed to write policy verdict", "error", err)
		return
	}

	metrics.PolicyVerdictsTotal.WithLabelValues(action).Inc()
	slog.Debug("policy verdict", "recipient", recipient, "action", action)
}
