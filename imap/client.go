package imap

import (
	"fmt"
	"time"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/cache"
)

// Client is the public entry point for reading mail. Every operation opens
// its own connection unless explicitly reused via WithConn; there is no
// connection pool.
type Client struct {
	config  Config
	bodies  cache.Cache
	bodyTTL time.Duration
}

// NewClient creates a client with the given configuration.
func NewClient(config Config) *Client {
	return &Client{config: config}
}

// WithBodyCache caches decoded message bodies for the given TTL, keyed by
// mailbox and UID. Flag updates and deletes invalidate the cached entry.
func (c *Client) WithBodyCache(bodies cache.Cache, ttl time.Duration) *Client {
	c.bodies = bodies
	c.bodyTTL = ttl
	return c
}

// NewClientFromEnv creates a client configured from the IMAP_* environment
// variables.
func NewClientFromEnv() *Client {
	return NewClient(FromEnv())
}

// Config returns a copy of the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// WithConn connects, authenticates, runs fn, and disconnects. The socket is
// closed before any error propagates, including errors from fn.
func (c *Client) WithConn(fn func(*Conn) error) error {
	conn, err := Dial(c.config)
	if err != nil {
		return apperror.Wrap(err)
	}
	defer apperror.Catch(conn.Close, "failed to close IMAP connection")

	err = conn.Authenticate()
	if err != nil {
		return apperror.Wrap(err)
	}

	return fn(conn)
}

// FetchEmails returns one page of message summaries from a mailbox, newest
// first. With filterByAllowedRecipients set, the page ranges over the
// messages addressed to the configured AllowedRecipients only; otherwise it
// ranges over the whole mailbox. Pages past the end are empty.
func (c *Client) FetchEmails(mailbox string, start, count int, filterByAllowedRecipients bool) (*Page, error) {
	var page *Page
	err := c.WithConn(func(conn *Conn) error {
		_, err := conn.SelectMailbox(mailbox)
		if err != nil {
			return err
		}

		if !filterByAllowedRecipients || len(c.config.AllowedRecipients) == 0 {
			headers, err := conn.FetchHeaders(start, count)
			if err != nil {
				return err
			}
			page = &Page{Headers: headers, Total: conn.Mailbox().Exists}
			return nil
		}

		uids, err := conn.SearchByRecipients(c.config.AllowedRecipients)
		if err != nil {
			return err
		}

		page = &Page{Headers: []Header{}, Total: len(uids)}
		if start >= len(uids) || count <= 0 {
			return nil
		}
		end := start + count
		if end > len(uids) {
			end = len(uids)
		}

		headers, err := conn.FetchHeadersByUIDs(uids[start:end])
		if err != nil {
			return err
		}
		page.Headers = headers
		return nil
	})
	if err != nil {
		return nil, apperror.Wrap(err)
	}
	return page, nil
}

// GetEmailBody fetches and decodes one message body by UID. Bodies are
// served from the cache when one is configured.
func (c *Client) GetEmailBody(mailbox string, uid uint32) (*Body, error) {
	key := bodyCacheKey(mailbox, uid)
	if c.bodies != nil {
		if cached, ok := c.bodies.Get(key); ok {
			if body, ok := cached.(*Body); ok {
				return body, nil
			}
		}
	}

	var body *Body
	err := c.WithConn(func(conn *Conn) error {
		_, err := conn.SelectMailbox(mailbox)
		if err != nil {
			return err
		}
		body, err = conn.FetchBody(uid)
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err)
	}

	if c.bodies != nil {
		c.bodies.Set(key, body, c.bodyTTL)
	}
	return body, nil
}

// ListMailboxes returns the names of all mailboxes visible to the account.
func (c *Client) ListMailboxes() ([]string, error) {
	var names []string
	err := c.WithConn(func(conn *Conn) error {
		var err error
		names, err = conn.ListMailboxes()
		return err
	})
	if err != nil {
		return nil, apperror.Wrap(err)
	}
	return names, nil
}

// MarkAsRead sets the \Seen flag on a message.
func (c *Client) MarkAsRead(mailbox string, uid uint32) error {
	return c.flag(mailbox, uid, (*Conn).MarkAsRead)
}

// MarkAsUnread clears the \Seen flag on a message.
func (c *Client) MarkAsUnread(mailbox string, uid uint32) error {
	return c.flag(mailbox, uid, (*Conn).MarkAsUnread)
}

// DeleteMessage flags a message as deleted and expunges the mailbox.
func (c *Client) DeleteMessage(mailbox string, uid uint32) error {
	return c.flag(mailbox, uid, (*Conn).DeleteMessage)
}

func (c *Client) flag(mailbox string, uid uint32, op func(*Conn, uint32) error) error {
	if c.bodies != nil {
		c.bodies.Delete(bodyCacheKey(mailbox, uid))
	}
	return c.WithConn(func(conn *Conn) error {
		_, err := conn.SelectMailbox(mailbox)
		if err != nil {
			return err
		}
		return op(conn, uid)
	})
}

func bodyCacheKey(mailbox string, uid uint32) string {
	return fmt.Sprintf("%s/%d", mailbox, uid)
}
