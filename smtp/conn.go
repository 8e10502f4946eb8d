// Package smtp implements a line-oriented SMTP client directly on top of
// stream sockets: connection setup with optional STARTTLS upgrade, the
// EHLO/AUTH handshake, and the MAIL FROM/RCPT TO/DATA transaction carrying a
// serialized MIME message.
//
// A Conn owns exactly one socket and allows exactly one command in flight at
// a time; responses are correlated to commands purely by this strict
// request/response ordering. The higher level Client opens a connection,
// authenticates, performs one or more sends and guarantees teardown.
package smtp

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/logging"
	"github.com/tasknest/go-mail/mail"
)

var logger = logging.GetPackageLogger("smtp")

// Expected SMTP status codes.
const (
	statusReady        = 220
	statusClosing      = 221
	statusAuthOK       = 235
	statusOK           = 250
	statusForwarded    = 251
	statusAuthContinue = 334
	statusStartData    = 354
)

// ErrCommandInFlight is returned when a command is issued while another is
// still awaiting its reply. The protocol is used strictly synchronously;
// there is no pipelining.
var ErrCommandInFlight = apperror.NewError("smtp: a command is already awaiting its reply")

// SendResult is the outcome of sending one message.
type SendResult struct {
	// Success reports whether the server accepted the message
	Success bool `json:"success"`
	// MessageID is the locally generated Message-ID header value
	MessageID string `json:"message_id,omitempty"`
	// Response is the final server reply for an accepted message
	Response string `json:"response,omitempty"`
	// Attempted distinguishes "sent and rejected" from "never attempted
	// because the connection had already failed"
	Attempted bool `json:"attempted"`
	// Err is the failure cause when Success is false
	Err error `json:"-"`
}

// Conn is a single SMTP connection: it owns one socket, one reply framer and
// the authentication state reached so far.
type Conn struct {
	config   Config
	conn     net.Conn
	framer   *replyFramer
	secure   bool
	inFlight bool
	broken   bool
}

// Dial opens a TCP or implicit-TLS connection per the configuration and
// waits for the 220 greeting.
func Dial(config Config) (*Conn, error) {
	err := config.Validate()
	if err != nil {
		return nil, apperror.Wrap(err)
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(config.Port))
	dialer := &net.Dialer{Timeout: config.Timeout}

	var netConn net.Conn
	if config.Secure {
		netConn, err = tls.DialWithDialer(dialer, "tcp", addr, config.TLSConfig())
	} else {
		netConn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		return nil, apperror.NewError("failed to connect to SMTP server").AddError(err).AddDetail("addr", addr)
	}

	c := NewConn(config, netConn)
	c.secure = config.Secure

	greeting, err := c.readReply()
	if err != nil {
		apperror.Catch(netConn.Close, "failed to close connection")
		return nil, apperror.Wrap(err)
	}
	if replyCode(greeting) != statusReady {
		apperror.Catch(netConn.Close, "failed to close connection")
		return nil, apperror.NewError("unexpected SMTP greeting").AddDetail("response", strings.TrimSpace(greeting))
	}

	logger.Debug().Field("host", config.Host).Field("port", config.Port).Field("secure", c.secure).Msg("connected to SMTP server")
	return c, nil
}

// NewConn wraps an already established connection. The greeting is not
// consumed; most callers want Dial instead.
func NewConn(config Config, conn net.Conn) *Conn {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Conn{
		config: config,
		conn:   conn,
		framer: &replyFramer{},
	}
}

// Authenticate performs EHLO, upgrades opportunistically via STARTTLS when
// the server advertises it, and authenticates with the configured mechanism.
// A username left empty skips authentication entirely.
func (c *Conn) Authenticate() error {
	ehlo, err := c.command("EHLO "+c.config.FQDN, statusOK)
	if err != nil {
		return err
	}

	if !c.secure && strings.Contains(ehlo, "STARTTLS") {
		_, err = c.command("STARTTLS", statusReady)
		if err != nil {
			return err
		}
		err = c.upgrade()
		if err != nil {
			return err
		}
		// The session state is reset by the upgrade; EHLO again.
		_, err = c.command("EHLO "+c.config.FQDN, statusOK)
		if err != nil {
			return err
		}
	}

	if c.config.Username == "" {
		return nil
	}

	switch strings.ToUpper(c.config.AuthMethod) {
	case "PLAIN":
		identity := base64.StdEncoding.EncodeToString([]byte("\x00" + c.config.Username + "\x00" + c.config.Password))
		_, err = c.commandRedacted("AUTH PLAIN "+identity, "AUTH PLAIN", statusAuthOK)
		return err
	case "CRAMMD5", "CRAM-MD5":
		return c.authCramMD5()
	default: // LOGIN
		_, err = c.command("AUTH LOGIN", statusAuthContinue)
		if err != nil {
			return err
		}
		_, err = c.commandRedacted(base64.StdEncoding.EncodeToString([]byte(c.config.Username)), "<username>", statusAuthContinue)
		if err != nil {
			return err
		}
		_, err = c.commandRedacted(base64.StdEncoding.EncodeToString([]byte(c.config.Password)), "<password>", statusAuthOK)
		return err
	}
}

func (c *Conn) authCramMD5() error {
	reply, err := c.command("AUTH CRAM-MD5", statusAuthContinue)
	if err != nil {
		return err
	}

	challenge, err := base64.StdEncoding.DecodeString(strings.TrimSpace(strings.TrimRight(reply, "\r\n")[4:]))
	if err != nil {
		return apperror.NewError("invalid CRAM-MD5 challenge").AddError(err)
	}

	mac := hmac.New(md5.New, []byte(c.config.Password))
	mac.Write(challenge)
	digest := fmt.Sprintf("%s %x", c.config.Username, mac.Sum(nil))

	_, err = c.commandRedacted(base64.StdEncoding.EncodeToString([]byte(digest)), "<digest>", statusAuthOK)
	return err
}

// SendMail runs one MAIL FROM/RCPT TO/DATA transaction. It never returns a
// protocol error to the caller: failures are captured in the result so a
// batch of independent messages continues past a bad recipient or body.
func (c *Conn) SendMail(message *mail.Message) SendResult {
	result := SendResult{Attempted: true}

	messageID, data, err := message.Render(c.config.From(), c.config.FQDN)
	if err != nil {
		result.Err = apperror.Wrap(err)
		return result
	}
	result.MessageID = messageID

	sender := mail.BareAddress(message.From)
	if sender == "" {
		sender = c.config.FromAddress
	}

	_, err = c.command("MAIL FROM:<"+sender+">", statusOK)
	if err != nil {
		result.Err = err
		c.reset()
		return result
	}

	recipients := message.Recipients()
	if len(recipients) == 0 {
		result.Err = apperror.NewError("message has no recipients")
		c.reset()
		return result
	}
	for _, recipient := range recipients {
		// 251 means the server will forward; still a success.
		_, err = c.command("RCPT TO:<"+recipient+">", statusOK, statusForwarded)
		if err != nil {
			result.Err = err
			c.reset()
			return result
		}
	}

	_, err = c.command("DATA", statusStartData)
	if err != nil {
		result.Err = err
		c.reset()
		return result
	}

	err = c.writeData(data)
	if err != nil {
		result.Err = err
		return result
	}

	reply, err := c.command(".", statusOK)
	if err != nil {
		result.Err = err
		c.reset()
		return result
	}

	result.Success = true
	result.Response = strings.TrimSpace(reply)
	logger.Debug().Field("message_id", messageID).Field("recipients", len(recipients)).Msg("message accepted")
	return result
}

// Broken reports whether the connection suffered an I/O-level failure and
// must be discarded. Unexpected status codes do not break the connection;
// read/write errors and timeouts do.
func (c *Conn) Broken() bool {
	return c.broken
}

// Close sends a best-effort QUIT and closes the socket.
func (c *Conn) Close() error {
	if !c.broken {
		_, err := c.command("QUIT", statusClosing)
		if err != nil {
			logger.Trace().Err(err).Msg("QUIT failed")
		}
	}
	return c.conn.Close()
}

// command sends one command line and waits for its reply, requiring one of
// the given status codes. Any other code yields an error carrying the raw
// server text.
func (c *Conn) command(cmd string, want ...int) (string, error) {
	return c.commandRedacted(cmd, cmd, want...)
}

// commandRedacted is command with a separate label for logging, so
// credential payloads never reach the log stream.
func (c *Conn) commandRedacted(cmd, label string, want ...int) (string, error) {
	if c.inFlight {
		return "", ErrCommandInFlight
	}
	c.inFlight = true
	defer func() { c.inFlight = false }()

	logger.Trace().Field("command", label).Msg("sending SMTP command")

	err := c.write([]byte(cmd + "\r\n"))
	if err != nil {
		return "", err
	}

	reply, err := c.readReply()
	if err != nil {
		return "", err
	}

	code := replyCode(reply)
	for _, w := range want {
		if code == w {
			return reply, nil
		}
	}
	return reply, apperror.NewErrorf("unexpected SMTP status %d", code).
		AddDetail("command", label).
		AddDetail("response", strings.TrimSpace(reply))
}

// readReply reads socket chunks into the framer until a complete reply is
// available or the timeout elapses.
func (c *Conn) readReply() (string, error) {
	err := c.conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
	if err != nil {
		c.broken = true
		return "", apperror.Wrap(err)
	}

	chunk := make([]byte, 4096)
	for {
		if reply, ok := c.framer.Next(); ok {
			logger.Trace().Field("response", strings.TrimSpace(reply)).Msg("received SMTP reply")
			return reply, nil
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.framer.Feed(chunk[:n])
			continue
		}
		if err != nil {
			c.broken = true
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", apperror.NewError("timeout waiting for SMTP reply")
			}
			return "", apperror.NewError("SMTP connection read failed").AddError(err)
		}
	}
}

func (c *Conn) write(data []byte) error {
	err := c.conn.SetWriteDeadline(time.Now().Add(c.config.Timeout))
	if err != nil {
		c.broken = true
		return apperror.Wrap(err)
	}
	_, err = c.conn.Write(data)
	if err != nil {
		c.broken = true
		return apperror.NewError("SMTP connection write failed").AddError(err)
	}
	return nil
}

// writeData streams the serialized message, dot-stuffing lines that begin
// with a period, and leaves the cursor ready for the terminating ".".
func (c *Conn) writeData(data []byte) error {
	stuffed := strings.ReplaceAll(string(data), "\r\n.", "\r\n..")
	if strings.HasPrefix(stuffed, ".") {
		stuffed = "." + stuffed
	}
	if !strings.HasSuffix(stuffed, "\r\n") {
		stuffed += "\r\n"
	}
	return c.write([]byte(stuffed))
}

// reset issues a best-effort RSET so the next transaction starts clean after
// a mid-transaction failure.
func (c *Conn) reset() {
	if c.broken {
		return
	}
	_, err := c.command("RSET", statusOK)
	if err != nil {
		logger.Trace().Err(err).Msg("RSET failed")
	}
}

// upgrade swaps the plain transport for a TLS one. The upgrade constructs a
// new connection value wrapping the old socket; the framer and its buffered
// state carry over untouched.
func (c *Conn) upgrade() error {
	tlsConn := tls.Client(c.conn, c.config.TLSConfig())

	err := tlsConn.SetDeadline(time.Now().Add(c.config.Timeout))
	if err != nil {
		c.broken = true
		return apperror.Wrap(err)
	}
	err = tlsConn.Handshake()
	if err != nil {
		c.broken = true
		return apperror.NewError("STARTTLS handshake failed").AddError(err)
	}
	err = tlsConn.SetDeadline(time.Time{})
	if err != nil {
		c.broken = true
		return apperror.Wrap(err)
	}

	c.conn = tlsConn
	c.secure = true
	logger.Debug().Field("host", c.config.Host).Msg("connection upgraded to TLS")
	return nil
}

// replyCode extracts the status code of the final reply line.
func replyCode(reply string) int {
	lines := strings.Split(strings.TrimRight(reply, "\r\n"), "\n")
	last := strings.TrimSuffix(lines[len(lines)-1], "\r")
	if len(last) < 3 {
		return 0
	}
	code, err := strconv.Atoi(last[:3])
	if err != nil {
		return 0
	}
	return code
}
