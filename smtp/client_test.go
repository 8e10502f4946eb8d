package smtp_test

import (
	"net"
	"strconv"
	"strings"
	"testing"

	"github.com/tasknest/go-mail/mail"
	"github.com/tasknest/go-mail/smtp"
)

// startServer listens on a loopback port, accepts one connection, sends the
// 220 greeting and then plays the given script.
func startServer(t *testing.T, exchanges []exchange, captured *[]string) (smtp.Config, <-chan struct{}) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := listener.Accept()
		if err != nil {
			t.Errorf("server: accept failed: %v", err)
			return
		}
		_, err = conn.Write([]byte("220 mail.example.com ESMTP\r\n"))
		if err != nil {
			t.Errorf("server: writing greeting failed: %v", err)
			return
		}
		<-script(t, conn, exchanges, captured)
	}()

	host, portText, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		t.Fatalf("failed to split listener address: %v", err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		t.Fatalf("failed to parse listener port: %v", err)
	}

	config := testConfig()
	config.Host = host
	config.Port = port
	return config, done
}

func TestClient_Send(t *testing.T) {
	config, done := startServer(t, []exchange{
		{expect: "EHLO", reply: "250 mail.example.com\r\n"},
		{expect: "MAIL FROM:<sender@example.com>", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<to@example.com>", reply: "250 ok\r\n"},
		{expect: "DATA", reply: "354 go ahead\r\n"},
		{expect: "<data>", reply: "250 2.0.0 accepted\r\n"},
		{expect: "QUIT", reply: "221 bye\r\n"},
	}, nil)

	client := smtp.NewClient(config)
	result, err := client.Send(&mail.Message{
		To:      []string{"to@example.com"},
		Subject: "hello",
		Text:    "body",
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error: %v", result.Err)
	}
	<-done
}

func TestClient_SendDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	host, portText, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portText)

	config := testConfig()
	config.Host = host
	config.Port = port

	client := smtp.NewClient(config)
	result, err := client.Send(&mail.Message{
		To:   []string{"to@example.com"},
		Text: "body",
	})
	if err == nil {
		t.Fatal("expected a dial error")
	}
	if result.Success || result.Attempted {
		t.Errorf("a message that never reached a server must be unattempted: %+v", result)
	}
}

func TestClient_SendBatchIsolatesFailures(t *testing.T) {
	config, done := startServer(t, []exchange{
		{expect: "EHLO", reply: "250 mail.example.com\r\n"},
		{expect: "MAIL FROM:", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<bad@example.com>", reply: "550 no such user\r\n"},
		{expect: "RSET", reply: "250 flushed\r\n"},
		{expect: "MAIL FROM:", reply: "250 ok\r\n"},
		{expect: "RCPT TO:<good@example.com>", reply: "250 ok\r\n"},
		{expect: "DATA", reply: "354 go ahead\r\n"},
		{expect: "<data>", reply: "250 ok\r\n"},
		{expect: "QUIT", reply: "221 bye\r\n"},
	}, nil)

	client := smtp.NewClient(config)
	results := client.SendBatch([]*mail.Message{
		{To: []string{"bad@example.com"}, Subject: "first", Text: "body"},
		{To: []string{"good@example.com"}, Subject: "second", Text: "body"},
	})
	<-done

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Success {
		t.Error("first message should have been rejected")
	}
	if !results[0].Attempted {
		t.Error("first message was attempted and must say so")
	}
	if !results[1].Success {
		t.Errorf("second message should have succeeded: %v", results[1].Err)
	}
}

func TestClient_SendBatchConnectionLoss(t *testing.T) {
	config, done := startServer(t, []exchange{
		{expect: "EHLO", reply: "250 mail.example.com\r\n"},
		{expect: "MAIL FROM:", reply: "250 ok\r\n"},
		{expect: "RCPT TO:", reply: "250 ok\r\n"},
		{expect: "DATA", reply: "354 go ahead\r\n"},
		{expect: "<data>", reply: "250 ok\r\n"},
		// No reply for the second MAIL FROM; the script ends and the
		// connection is closed under the client.
		{expect: "MAIL FROM:", reply: ""},
	}, nil)

	client := smtp.NewClient(config)
	results := client.SendBatch([]*mail.Message{
		{To: []string{"one@example.com"}, Subject: "one", Text: "body"},
		{To: []string{"two@example.com"}, Subject: "two", Text: "body"},
		{To: []string{"three@example.com"}, Subject: "three", Text: "body"},
	})
	<-done

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success {
		t.Fatalf("first message should have succeeded: %v", results[0].Err)
	}
	if results[1].Success || !results[1].Attempted || results[1].Err == nil {
		t.Errorf("second message should be a failed attempt: %+v", results[1])
	}
	if results[2].Attempted {
		t.Error("third message was never attempted and must say so")
	}
	if results[2].Err == nil {
		t.Error("skipped messages must carry the connection failure")
	}
}

func TestClient_SendAuthFailure(t *testing.T) {
	config, done := startServer(t, []exchange{
		{expect: "EHLO", reply: "250 AUTH LOGIN\r\n"},
		{expect: "AUTH LOGIN", reply: "334 VXNlcm5hbWU6\r\n"},
		{expect: b64("user"), reply: "334 UGFzc3dvcmQ6\r\n"},
		{expect: b64("wrong"), reply: "535 authentication failed\r\n"},
		{expect: "QUIT", reply: "221 bye\r\n"},
	}, nil)
	config.Username = "user"
	config.Password = "wrong"

	client := smtp.NewClient(config)
	_, err := client.Send(&mail.Message{
		To:   []string{"to@example.com"},
		Text: "body",
	})
	if err == nil {
		t.Fatal("expected an authentication error")
	}
	if !strings.Contains(err.Error(), "535") {
		t.Errorf("error should carry the server status: %v", err)
	}
	<-done
}
