// Package delivery implements the inbound delivery dialog: a minimal
// command loop that captures one raw message at a time, spools it to disk
// and submits the parsed form to the internal platform.
package delivery

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/restmail/restmail-receiver/internal/api"
	"github.com/restmail/restmail-receiver/internal/metrics"
	"github.com/restmail/restmail-receiver/internal/parser"
	"github.com/restmail/restmail-receiver/internal/store"
)

// banner is the greeting identity. The dialog is spoken only by the local
// transfer agent, so the hostname is not configurable.
const banner = "localhost ESMTP restmail-receiver"

// Submitter delivers a parsed message to the internal platform.
// *api.Client implements it; a nil Submitter means API mode is off and
// messages are accepted on the strength of the spool write alone.
type Submitter interface {
	ReceiveEmail(ctx context.Context, req *api.ReceiveEmailRequest) (*api.ReceiveEmailResponse, error)
}

// Session is one inbound delivery connection.
type Session struct {
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	store   *store.Store
	submit  Submitter
	timeout time.Duration

	// Current transaction. mailFrom and rcptTo hold the raw command
	// text; the parsed message is built from the DATA payload only.
	mailFrom string
	rcptTo   []string
	data     strings.Builder
	inData   bool
}

// NewSession creates a delivery session over conn. timeout bounds each
// read; zero disables the deadline.
func NewSession(conn net.Conn, st *store.Store, submit Submitter, timeout time.Duration) *Session {
	return &Session{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		store:   st,
		submit:  submit,
		timeout: timeout,
	}
}

// Handle runs the dialog until QUIT, end of stream or an IO error.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s", banner)

	for {
		if s.timeout > 0 {
			if err := s.conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
				slog.Error("failed to set connection deadline", "error", err)
				return
			}
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("delivery read error", "error", err)
			}
			return
		}

		if s.inData {
			// The terminator check is literal: no dot-unstuffing is
			// performed, so an escaped ".." body line is stored as "..".
			if strings.TrimRight(line, "\r\n") == "." {
				s.finishMessage(ctx)
				s.inData = false
				s.data.Reset()
				continue
			}
			s.data.WriteString(line)
			continue
		}

		if done := s.handleCommand(strings.TrimSpace(line)); done {
			return
		}
	}
}

// handleCommand classifies one command line case-insensitively and writes
// the reply. It returns true when the session should end.
func (s *Session) handleCommand(line string) bool {
	upper := strings.ToUpper(line)
	switch {
	case strings.HasPrefix(upper, "HELO"), strings.HasPrefix(upper, "EHLO"):
		s.writeLine("250 Hello")
	case strings.HasPrefix(upper, "MAIL FROM"):
		s.mailFrom = line
		s.writeLine("250 Ok")
	case strings.HasPrefix(upper, "RCPT TO"):
		s.rcptTo = append(s.rcptTo, line)
		s.writeLine("250 Ok")
	case upper == "DATA":
		s.inData = true
		s.writeLine("354 End data with <CR><LF>.<CR><LF>")
	case upper == "NOOP":
		s.writeLine("250 Ok")
	case upper == "RSET":
		s.resetTransaction()
		s.writeLine("250 Ok")
	case upper == "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unknown")
	}
	return false
}

// finishMessage runs the completion sequence for one captured message:
// spool the raw bytes first, then attempt the platform submission, then
// pick the response code. The spool write is independent of parsing so
// the original bytes survive even when structured extraction is imperfect,
// and it always precedes the submission so a crash between the two leaves
// at most a file without a platform record, never the reverse.
func (s *Session) finishMessage(ctx context.Context) {
	raw := s.data.String()
	msg := parser.Parse(raw)

	path, writeErr := s.store.Write(raw)
	if writeErr != nil {
		slog.Error("spool write failed", "error", writeErr)
	} else {
		slog.Info("message spooled",
			"path", path,
			"mail_from", s.mailFrom,
			"rcpt_count", len(s.rcptTo),
		)
	}

	if s.submit == nil {
		if writeErr == nil {
			s.respond("queued", "250 2.0.0 Ok: Queued")
		} else {
			s.respond("tempfail", "451 4.3.0 Error: Could not write file")
		}
		return
	}

	var delivered, failed int
	resp, err := s.submit.ReceiveEmail(ctx, api.ReceiveRequestFromMessage(msg))
	if err != nil {
		slog.Error("platform submission failed", "error", err)
	} else {
		for _, r := range resp.DeliveredTo {
			if r.Success {
				delivered++
			} else {
				failed++
				slog.Warn("recipient not accepted by platform",
					"recipient", r.Recipient,
					"error", r.Error,
				)
			}
		}
	}

	switch {
	case err == nil && delivered > 0 && failed == 0:
		s.respond("queued", "250 2.0.0 Ok: Queued")
	case err == nil && delivered > 0:
		s.respond("partial", "250 2.0.0 Ok: Partially queued")
	case writeErr == nil:
		s.respond("file_only", "250 2.0.0 Ok: Queued (file only)")
	default:
		s.respond("permfail", "550 5.1.1 Delivery failed")
	}
}

// respond writes the completion reply and records the outcome.
func (s *Session) respond(outcome, reply string) {
	metrics.DeliveriesTotal.WithLabelValues(outcome).Inc()
	s.writeLine("%s", reply)
}

// resetTransaction clears the captured envelope and message buffer.
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	s.data.Reset()
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}
