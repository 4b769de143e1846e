package server

import (
	"net"
	"sync"
	"time"

	"github.com/mnorrsken/memkeys/internal/handler"
	"github.com/mnorrsken/memkeys/internal/pubsub"
	"github.com/mnorrsken/memkeys/internal/resp"
)

// deliverTimeout bounds how long a pub/sub delivery may wait on a slow
// client's socket.
const deliverTimeout = 5 * time.Second

// client is one accepted connection. Replies and pub/sub messages share the
// writer, so every write goes through mu.
type client struct {
	conn    net.Conn
	session *handler.Session

	mu     sync.Mutex
	writer *resp.Writer
}

func newClient(conn net.Conn) *client {
	c := &client{
		conn:    conn,
		session: handler.NewSession(conn.RemoteAddr().String()),
		writer:  resp.NewWriter(conn),
	}
	c.session.Subscriber = c
	return c
}

// GetID returns the client ID
func (c *client) GetID() uint64 {
	return c.session.ID
}

// Deliver writes a published message to the connection.
func (c *client) Deliver(msg pubsub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(deliverTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})

	c.writer.SetProtocol(c.session.Proto())
	if err := c.writer.WriteValue(msg.Value()); err != nil {
		return err
	}
	return c.writer.Flush()
}

// reply writes the replies to one command. Pipelined commands still waiting
// in the read buffer skip the flush so their replies go out together.
func (c *client) reply(values []resp.Value, flush bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// HELLO may have switched the protocol while handling the command
	c.writer.SetProtocol(c.session.Proto())
	for _, v := range values {
		if err := c.writer.WriteValue(v); err != nil {
			return err
		}
	}
	if !flush {
		return nil
	}
	return c.writer.Flush()
}
