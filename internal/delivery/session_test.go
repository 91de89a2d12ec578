package delivery

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/restmail/restmail-receiver/internal/api"
	"github.com/restmail/restmail-receiver/internal/store"
)

// fakeSubmitter implements Submitter with a canned outcome.
type fakeSubmitter struct {
	resp    *api.ReceiveEmailResponse
	err     error
	lastReq *api.ReceiveEmailRequest
}

func (f *fakeSubmitter) ReceiveEmail(_ context.Context, req *api.ReceiveEmailRequest) (*api.ReceiveEmailResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

// connPair creates a connected pair of net.Conn for testing sessions.
func connPair(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()

	done := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		done <- conn
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}

	server = <-done
	return client, server
}

// readLine reads one response line from the session.
func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// sendCmd sends one CRLF-terminated line to the session.
func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

// runSession starts a delivery session over a fresh pair, spooling into a
// temp dir, and returns the client side after consuming the greeting.
func runSession(t *testing.T, st *store.Store, submit Submitter) (net.Conn, *bufio.Reader) {
	t.Helper()
	client, server := connPair(t)
	t.Cleanup(func() { client.Close() })

	go NewSession(server, st, submit, 5*time.Second).Handle(context.Background())

	reader := bufio.NewReader(client)
	if greeting := readLine(t, reader); !strings.HasPrefix(greeting, "220 ") {
		t.Fatalf("greeting: got %q", greeting)
	}
	return client, reader
}

// deliverMessage drives a full dialog up to the data terminator and
// returns the completion response.
func deliverMessage(t *testing.T, client net.Conn, reader *bufio.Reader, bodyLines []string) string {
	t.Helper()

	sendCmd(t, client, "EHLO x")
	if got := readLine(t, reader); got != "250 Hello" {
		t.Fatalf("EHLO: got %q", got)
	}
	sendCmd(t, client, "MAIL FROM:<a@b>")
	if got := readLine(t, reader); got != "250 Ok" {
		t.Fatalf("MAIL FROM: got %q", got)
	}
	sendCmd(t, client, "RCPT TO:<c@d>")
	if got := readLine(t, reader); got != "250 Ok" {
		t.Fatalf("RCPT TO: got %q", got)
	}
	sendCmd(t, client, "DATA")
	if got := readLine(t, reader); !strings.HasPrefix(got, "354 ") {
		t.Fatalf("DATA: got %q", got)
	}
	for _, line := range bodyLines {
		sendCmd(t, client, line)
	}
	sendCmd(t, client, ".")
	return readLine(t, reader)
}

func spooledFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.eml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return matches
}

func TestSession_EndToEnd_FileOnly(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	client, reader := runSession(t, st, nil)

	resp := deliverMessage(t, client, reader, []string{
		"Subject: hi",
		"",
		"line one",
		"line two",
	})
	if resp != "250 2.0.0 Ok: Queued" {
		t.Errorf("completion: got %q, want %q", resp, "250 2.0.0 Ok: Queued")
	}

	sendCmd(t, client, "QUIT")
	if got := readLine(t, reader); got != "221 Bye" {
		t.Errorf("QUIT: got %q", got)
	}

	files := spooledFiles(t, st.Dir())
	if len(files) != 1 {
		t.Fatalf("spooled files: got %d, want 1", len(files))
	}
	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read spooled file: %v", err)
	}
	want := "Subject: hi\r\n\r\nline one\r\nline two\r\n"
	if string(raw) != want {
		t.Errorf("spooled bytes: got %q, want %q", raw, want)
	}
}

func TestSession_UnknownCommand(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	client, reader := runSession(t, st, nil)

	sendCmd(t, client, "VRFY someone")
	if got := readLine(t, reader); got != "500 Unknown" {
		t.Errorf("unknown command: got %q, want %q", got, "500 Unknown")
	}

	// The session stays usable afterwards.
	sendCmd(t, client, "NOOP")
	if got := readLine(t, reader); got != "250 Ok" {
		t.Errorf("NOOP after unknown: got %q", got)
	}
}

func TestSession_Rset(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	client, reader := runSession(t, st, nil)

	sendCmd(t, client, "MAIL FROM:<a@b>")
	readLine(t, reader)
	sendCmd(t, client, "RSET")
	if got := readLine(t, reader); got != "250 Ok" {
		t.Errorf("RSET: got %q", got)
	}
}

func TestSession_DotIsNotUnstuffed(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	client, reader := runSession(t, st, nil)

	resp := deliverMessage(t, client, reader, []string{"..keep both dots"})
	if resp != "250 2.0.0 Ok: Queued" {
		t.Fatalf("completion: got %q", resp)
	}

	files := spooledFiles(t, st.Dir())
	if len(files) != 1 {
		t.Fatalf("spooled files: got %d, want 1", len(files))
	}
	raw, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read spooled file: %v", err)
	}
	if string(raw) != "..keep both dots\r\n" {
		t.Errorf("spooled bytes: got %q", raw)
	}
}

func TestSession_AllRecipientsAccepted(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	submit := &fakeSubmitter{
		resp: &api.ReceiveEmailResponse{
			Status: "ok",
			DeliveredTo: []api.DeliveryResult{
				{Recipient: "a@x.org", Success: true},
				{Recipient: "b@x.org", Success: true},
			},
		},
	}
	client, reader := runSession(t, st, submit)

	resp := deliverMessage(t, client, reader, []string{
		"From: s@x.org",
		"To: a@x.org, b@x.org",
		"Subject: t",
		"",
		"body",
	})
	if resp != "250 2.0.0 Ok: Queued" {
		t.Errorf("completion: got %q, want %q", resp, "250 2.0.0 Ok: Queued")
	}

	if submit.lastReq == nil {
		t.Fatal("submission never happened")
	}
	if submit.lastReq.From != "s@x.org" || len(submit.lastReq.To) != 2 {
		t.Errorf("submitted request: got %+v", submit.lastReq)
	}
}

func TestSession_PartialAcceptance(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	submit := &fakeSubmitter{
		resp: &api.ReceiveEmailResponse{
			DeliveredTo: []api.DeliveryResult{
				{Recipient: "a@x.org", Success: true},
				{Recipient: "b@x.org", Success: false, Error: "unknown user"},
			},
		},
	}
	client, reader := runSession(t, st, submit)

	resp := deliverMessage(t, client, reader, []string{"body"})
	if resp != "250 2.0.0 Ok: Partially queued" {
		t.Errorf("completion: got %q, want partial", resp)
	}
}

func TestSession_SubmissionFailedFileSaved(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	submit := &fakeSubmitter{err: &api.Error{Kind: api.KindTransport}}
	client, reader := runSession(t, st, submit)

	resp := deliverMessage(t, client, reader, []string{"body"})
	if resp != "250 2.0.0 Ok: Queued (file only)" {
		t.Errorf("completion: got %q, want file-only", resp)
	}

	if got := len(spooledFiles(t, st.Dir())); got != 1 {
		t.Errorf("spooled files: got %d, want 1", got)
	}
}

func TestSession_ZeroRecipientsFileSaved(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	submit := &fakeSubmitter{
		resp: &api.ReceiveEmailResponse{
			DeliveredTo: []api.DeliveryResult{
				{Recipient: "a@x.org", Success: false, Error: "rejected"},
			},
		},
	}
	client, reader := runSession(t, st, submit)

	resp := deliverMessage(t, client, reader, []string{"body"})
	if resp != "250 2.0.0 Ok: Queued (file only)" {
		t.Errorf("completion: got %q, want file-only", resp)
	}
}

// brokenStore returns a Store whose directory cannot be created because a
// regular file occupies the path.
func brokenStore(t *testing.T) *store.Store {
	t.Helper()
	base := t.TempDir()
	if err := os.WriteFile(filepath.Join(base, "incoming"), []byte("x"), 0o644); err != nil {
		t.Fatalf("prepare blocking file: %v", err)
	}
	return store.New(base, "incoming")
}

func TestSession_WriteFailedNoAPI(t *testing.T) {
	t.Parallel()

	client, reader := runSession(t, brokenStore(t), nil)

	resp := deliverMessage(t, client, reader, []string{"body"})
	if !strings.HasPrefix(resp, "451 4.3.0 Error:") {
		t.Errorf("completion: got %q, want temporary failure", resp)
	}
}

func TestSession_WriteFailedAndSubmissionFailed(t *testing.T) {
	t.Parallel()

	submit := &fakeSubmitter{err: errors.New("boom")}
	client, reader := runSession(t, brokenStore(t), submit)

	resp := deliverMessage(t, client, reader, []string{"body"})
	if resp != "550 5.1.1 Delivery failed" {
		t.Errorf("completion: got %q, want permanent failure", resp)
	}
}

func TestSession_SecondMessageOnSameConnection(t *testing.T) {
	t.Parallel()

	st := store.New(t.TempDir(), "incoming")
	client, reader := runSession(t, st, nil)

	if resp := deliverMessage(t, client, reader, []string{"first"}); resp != "250 2.0.0 Ok: Queued" {
		t.Fatalf("first message: got %q", resp)
	}

	sendCmd(t, client, "DATA")
	if got := readLine(t, reader); !strings.HasPrefix(got, "354 ") {
		t.Fatalf("second DATA: got %q", got)
	}
	sendCmd(t, client, "second")
	sendCmd(t, client, ".")
	if got := readLine(t, reader); got != "250 2.0.0 Ok: Queued" {
		t.Fatalf("second completion: got %q", got)
	}

	files := spooledFiles(t, st.Dir())
	if len(files) != 2 {
		t.Fatalf("spooled files: got %d, want 2", len(files))
	}
}
