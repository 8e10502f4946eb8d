// Package imap implements an IMAP4rev1 client directly on top of stream
// sockets: connection setup with optional STARTTLS upgrade, LOGIN
// authentication, mailbox listing and selection, paginated header fetches,
// recipient searches, flag updates and body retrieval.
//
// A Conn owns exactly one socket and allows exactly one command in flight at
// a time; replies are correlated to commands by their tags, which the client
// generates as a monotonically increasing sequence. The response framer is
// literal-aware, so FETCH blocks carrying {N}-counted payloads are
// reassembled before parsing.
package imap

import (
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/logging"
)

var logger = logging.GetPackageLogger("imap")

// uidFetchBatchSize caps the number of UIDs per UID FETCH so that command
// lines stay well below server limits.
const uidFetchBatchSize = 100

// ErrCommandInFlight is returned when a command is issued while another is
// still awaiting its reply. Pipelining is deliberately unsupported.
var ErrCommandInFlight = apperror.NewError("imap: a command is already awaiting its reply")

// ErrNoMailboxSelected is returned by operations that require a prior
// SelectMailbox call.
var ErrNoMailboxSelected = apperror.NewError("imap: no mailbox selected")

// Conn is a single IMAP connection: it owns one socket, one response framer,
// the tag sequence and the currently selected mailbox.
type Conn struct {
	config   Config
	conn     net.Conn
	framer   *responseFramer
	secure   bool
	inFlight bool
	broken   bool
	seq      int
	mailbox  *MailboxInfo
}

// Dial opens a TCP or implicit-TLS connection per the configuration and
// waits for the untagged OK greeting.
func Dial(config Config) (*Conn, error) {
	err := config.Validate()
	if err != nil {
		return nil, apperror.Wrap(err)
	}

	dialer := &net.Dialer{Timeout: config.Timeout}

	var netConn net.Conn
	if config.Secure {
		netConn, err = tls.DialWithDialer(dialer, "tcp", config.Address(), config.TLSConfig())
	} else {
		netConn, err = dialer.Dial("tcp", config.Address())
	}
	if err != nil {
		return nil, apperror.NewError("failed to connect to IMAP server").AddError(err).AddDetail("addr", config.Address())
	}

	c := NewConn(config, netConn)
	c.secure = config.Secure

	greeting, err := c.readLine()
	if err != nil {
		apperror.Catch(netConn.Close, "failed to close connection")
		return nil, apperror.Wrap(err)
	}
	if !strings.HasPrefix(greeting, "* OK") {
		apperror.Catch(netConn.Close, "failed to close connection")
		return nil, apperror.NewError("unexpected IMAP greeting").AddDetail("response", greeting)
	}

	logger.Debug().Field("host", config.Host).Field("port", config.Port).Field("secure", c.secure).Msg("connected to IMAP server")
	return c, nil
}

// NewConn wraps an already established connection. The greeting is not
// consumed; most callers want Dial instead.
func NewConn(config Config, conn net.Conn) *Conn {
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Conn{
		config: config,
		conn:   conn,
		framer: &responseFramer{},
	}
}

// Authenticate queries the server capabilities, upgrades opportunistically
// via STARTTLS when advertised, and logs in with the configured credentials.
// A username left empty skips the login.
func (c *Conn) Authenticate() error {
	caps, err := c.capabilities()
	if err != nil {
		return err
	}

	if !c.secure && strings.Contains(caps, "STARTTLS") {
		_, err = c.command("STARTTLS")
		if err != nil {
			return err
		}
		err = c.upgrade()
		if err != nil {
			return err
		}
		// Capabilities may change after the upgrade.
		_, err = c.capabilities()
		if err != nil {
			return err
		}
	}

	if c.config.Username == "" {
		return nil
	}

	_, err = c.commandRedacted(
		fmt.Sprintf("LOGIN %s %s", quoteString(c.config.Username), quoteString(c.config.Password)),
		"LOGIN <credentials>",
	)
	if err != nil {
		return apperror.NewError("IMAP login failed").AddError(err).AddDetail("username", c.config.Username)
	}

	logger.Debug().Field("username", c.config.Username).Msg("authenticated with IMAP server")
	return nil
}

func (c *Conn) capabilities() (string, error) {
	response, err := c.command("CAPABILITY")
	if err != nil {
		return "", err
	}
	for _, line := range response.Untagged {
		if strings.HasPrefix(line, "* CAPABILITY") {
			return line, nil
		}
	}
	return "", nil
}

// ListMailboxes returns the names of all mailboxes visible to the account.
func (c *Conn) ListMailboxes() ([]string, error) {
	response, err := c.command(`LIST "" "*"`)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range response.Untagged {
		name, ok := parseListLine(line)
		if ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// SelectMailbox opens a mailbox in read-write mode and records its state.
// Selecting a new mailbox replaces the previous selection.
func (c *Conn) SelectMailbox(name string) (*MailboxInfo, error) {
	response, err := c.command("SELECT " + quoteString(name))
	if err != nil {
		c.mailbox = nil
		return nil, apperror.NewError("failed to select mailbox").AddError(err).AddDetail("mailbox", name)
	}

	info := parseSelect(name, response.Untagged)
	c.mailbox = info
	logger.Debug().Field("mailbox", name).Field("exists", info.Exists).Msg("mailbox selected")
	return info, nil
}

// Mailbox returns the currently selected mailbox, or nil if none.
func (c *Conn) Mailbox() *MailboxInfo {
	return c.mailbox
}

// FetchHeaders fetches one page of message summaries by position. The page
// is addressed from the newest message: start 0 is the most recent message,
// and the result is ordered newest first. Pages past the end are empty, and
// a page overlapping the oldest message is truncated.
func (c *Conn) FetchHeaders(start, count int) ([]Header, error) {
	if c.mailbox == nil {
		return nil, ErrNoMailboxSelected
	}
	if count <= 0 || start < 0 {
		return []Header{}, nil
	}

	total := c.mailbox.Exists
	end := total - start
	if end < 1 {
		return []Header{}, nil
	}
	begin := end - count + 1
	if begin < 1 {
		begin = 1
	}

	response, err := c.command(fmt.Sprintf("FETCH %d:%d (UID FLAGS ENVELOPE RFC822.SIZE)", begin, end))
	if err != nil {
		return nil, err
	}

	headers := parseFetchHeaders(response.Untagged)
	// The server replies in ascending sequence order; callers want newest
	// first.
	for i, j := 0, len(headers)-1; i < j; i, j = i+1, j-1 {
		headers[i], headers[j] = headers[j], headers[i]
	}
	return headers, nil
}

// FetchHeadersByUIDs fetches message summaries for the given UIDs, batching
// the requests to keep command lines short. The result preserves the order
// of the input UIDs; unknown UIDs are silently absent.
func (c *Conn) FetchHeadersByUIDs(uids []uint32) ([]Header, error) {
	if c.mailbox == nil {
		return nil, ErrNoMailboxSelected
	}
	if len(uids) == 0 {
		return []Header{}, nil
	}

	byUID := make(map[uint32]Header, len(uids))
	for offset := 0; offset < len(uids); offset += uidFetchBatchSize {
		batch := uids[offset:]
		if len(batch) > uidFetchBatchSize {
			batch = batch[:uidFetchBatchSize]
		}

		response, err := c.command(fmt.Sprintf("UID FETCH %s (UID FLAGS ENVELOPE RFC822.SIZE)", uidSet(batch)))
		if err != nil {
			return nil, err
		}
		for _, header := range parseFetchHeaders(response.Untagged) {
			byUID[header.UID] = header
		}
	}

	headers := make([]Header, 0, len(uids))
	for _, uid := range uids {
		if header, ok := byUID[uid]; ok {
			headers = append(headers, header)
		}
	}
	return headers, nil
}

// SearchByRecipients finds the UIDs of messages addressed to any of the
// given addresses, newest first. Multiple addresses combine via nested OR
// terms, since IMAP OR is strictly binary.
func (c *Conn) SearchByRecipients(addresses []string) ([]uint32, error) {
	if c.mailbox == nil {
		return nil, ErrNoMailboxSelected
	}
	if len(addresses) == 0 {
		return []uint32{}, nil
	}

	query := "TO " + quoteString(addresses[0])
	for _, address := range addresses[1:] {
		query = fmt.Sprintf("OR (%s) (TO %s)", query, quoteString(address))
	}

	response, err := c.command("UID SEARCH " + query)
	if err != nil {
		return nil, err
	}

	var uids []uint32
	for _, line := range response.Untagged {
		if !strings.HasPrefix(line, "* SEARCH") {
			continue
		}
		for _, field := range strings.Fields(line[len("* SEARCH"):]) {
			uid, err := strconv.ParseUint(field, 10, 32)
			if err == nil {
				uids = append(uids, uint32(uid))
			}
		}
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

// MarkAsRead sets the \Seen flag on a message.
func (c *Conn) MarkAsRead(uid uint32) error {
	return c.store(uid, `+FLAGS (\Seen)`)
}

// MarkAsUnread clears the \Seen flag on a message.
func (c *Conn) MarkAsUnread(uid uint32) error {
	return c.store(uid, `-FLAGS (\Seen)`)
}

// DeleteMessage flags a message as deleted and expunges the mailbox. The
// expunge removes every message flagged deleted, not only this one.
func (c *Conn) DeleteMessage(uid uint32) error {
	err := c.store(uid, `+FLAGS (\Deleted)`)
	if err != nil {
		return err
	}
	_, err = c.command("EXPUNGE")
	if err != nil {
		return apperror.NewError("failed to expunge mailbox").AddError(err)
	}
	return nil
}

func (c *Conn) store(uid uint32, item string) error {
	if c.mailbox == nil {
		return ErrNoMailboxSelected
	}
	_, err := c.command(fmt.Sprintf("UID STORE %d %s", uid, item))
	if err != nil {
		return apperror.NewError("failed to update message flags").AddError(err).AddDetail("uid", uid)
	}
	return nil
}

// Broken reports whether the connection suffered an I/O-level failure and
// must be discarded. A NO or BAD completion does not break the connection;
// read/write errors and timeouts do.
func (c *Conn) Broken() bool {
	return c.broken
}

// Close sends a best-effort LOGOUT and closes the socket.
func (c *Conn) Close() error {
	if !c.broken {
		_, err := c.command("LOGOUT")
		if err != nil {
			logger.Trace().Err(err).Msg("LOGOUT failed")
		}
	}
	return c.conn.Close()
}

// command sends one tagged command and waits for its tagged completion,
// requiring OK. NO and BAD completions yield an error carrying the raw
// server text.
func (c *Conn) command(cmd string) (*Response, error) {
	return c.commandRedacted(cmd, cmd)
}

// commandRedacted is command with a separate label for logging, so
// credential payloads never reach the log stream.
func (c *Conn) commandRedacted(cmd, label string) (*Response, error) {
	if c.inFlight {
		return nil, ErrCommandInFlight
	}
	c.inFlight = true
	defer func() { c.inFlight = false }()

	tag := c.nextTag()
	c.logWire("command", tag+" "+label)

	err := c.write([]byte(tag + " " + cmd + "\r\n"))
	if err != nil {
		return nil, err
	}

	response, err := c.readResponse(tag)
	if err != nil {
		return nil, err
	}
	if !response.OK() {
		return response, apperror.NewError("IMAP command rejected").
			AddDetail("command", label).
			AddDetail("response", response.Tagged)
	}
	return response, nil
}

func (c *Conn) nextTag() string {
	c.seq++
	return fmt.Sprintf("A%04d", c.seq)
}

// readResponse reads socket chunks into the framer until the tagged
// completion arrives or the timeout elapses.
func (c *Conn) readResponse(tag string) (*Response, error) {
	err := c.conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
	if err != nil {
		c.broken = true
		return nil, apperror.Wrap(err)
	}

	chunk := make([]byte, 4096)
	for {
		if response, ok := c.framer.Next(tag); ok {
			c.logWire("response", response.Tagged)
			return response, nil
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.framer.Feed(chunk[:n])
			continue
		}
		if err != nil {
			c.broken = true
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, apperror.NewError("timeout waiting for IMAP response").AddDetail("tag", tag)
			}
			return nil, apperror.NewError("IMAP connection read failed").AddError(err)
		}
	}
}

// readLine reads raw chunks until one complete line is available; only the
// greeting is read this way.
func (c *Conn) readLine() (string, error) {
	err := c.conn.SetReadDeadline(time.Now().Add(c.config.Timeout))
	if err != nil {
		c.broken = true
		return "", apperror.Wrap(err)
	}

	chunk := make([]byte, 4096)
	for {
		if line, ok := c.framer.Line(); ok {
			c.logWire("greeting", line)
			return line, nil
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.framer.Feed(chunk[:n])
			continue
		}
		if err != nil {
			c.broken = true
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return "", apperror.NewError("timeout waiting for IMAP greeting")
			}
			return "", apperror.NewError("IMAP connection read failed").AddError(err)
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
		return apperror.NewError("IMAP connection write failed").AddError(err)
	}
	return nil
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

// logWire emits the raw exchange. Debug mode promotes it to debug level so
// sessions can be followed without enabling trace globally.
func (c *Conn) logWire(direction, text string) {
	if c.config.Debug {
		logger.Debug().Field(direction, text).Msg("imap wire")
		return
	}
	logger.Trace().Field(direction, text).Msg("imap wire")
}

// uidSet renders UIDs as the comma separated set syntax of FETCH.
func uidSet(uids []uint32) string {
	parts := make([]string, len(uids))
	for i, uid := range uids {
		parts[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return strings.Join(parts, ",")
}

// quoteString renders a value as an IMAP quoted string, escaping backslashes
// and double quotes.
func quoteString(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
