package smtp

import (
	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/mail"
)

// Client is the public entry point for sending mail. Every operation opens
// its own connection unless explicitly reused via WithConn or SendBatch;
// there is no connection pool.
type Client struct {
	config Config
}

// NewClient creates a client with the given configuration.
func NewClient(config Config) *Client {
	return &Client{config: config}
}

// NewClientFromEnv creates a client configured from the SMTP_* environment
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
	defer apperror.Catch(conn.Close, "failed to close SMTP connection")

	err = conn.Authenticate()
	if err != nil {
		return apperror.Wrap(err)
	}

	return fn(conn)
}

// Send delivers a single message over a fresh connection.
func (c *Client) Send(message *mail.Message) (SendResult, error) {
	var result SendResult
	err := c.WithConn(func(conn *Conn) error {
		result = conn.SendMail(message)
		return nil
	})
	if err != nil {
		return SendResult{Err: err}, err
	}
	return result, nil
}

// SendBatch delivers all messages over one authenticated connection,
// sequentially. A failure of an individual message is captured in its result
// and does not stop the batch; a connection-level failure assigns the same
// error to every message not yet attempted, with Attempted left false so
// callers can tell "rejected" from "never tried".
func (c *Client) SendBatch(messages []*mail.Message) []SendResult {
	results := make([]SendResult, 0, len(messages))

	conn, err := Dial(c.config)
	if err == nil {
		err = conn.Authenticate()
		if err != nil {
			apperror.Catch(conn.Close, "failed to close SMTP connection")
		}
	}
	if err != nil {
		err = apperror.Wrap(err)
		for range messages {
			results = append(results, SendResult{Err: err})
		}
		return results
	}
	defer apperror.Catch(conn.Close, "failed to close SMTP connection")

	for i, message := range messages {
		result := conn.SendMail(message)
		results = append(results, result)

		if conn.Broken() {
			cause := result.Err
			if cause == nil {
				cause = apperror.NewError("SMTP connection failed mid-batch")
			}
			for range messages[i+1:] {
				results = append(results, SendResult{Err: cause})
			}
			break
		}
	}

	sent := 0
	for _, r := range results {
		if r.Success {
			sent++
		}
	}
	logger.Info().Field("total", len(messages)).Field("sent", sent).Msg("batch send finished")

	return results
}
