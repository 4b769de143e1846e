// Package server provides the TCP server for the Redis protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"

	"github.com/mnorrsken/memkeys/internal/handler"
	"github.com/mnorrsken/memkeys/internal/metrics"
	"github.com/mnorrsken/memkeys/internal/resp"
)

// Options configures a Server.
type Options struct {
	// Trace logs every command and reply at trace level.
	Trace bool
}

// Server represents a Redis-compatible server
type Server struct {
	addr     string
	handler  *handler.Handler
	logger   hclog.Logger
	trace    bool
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[*client]struct{}
}

// New creates a new server
func New(addr string, h *handler.Handler, logger hclog.Logger, opts Options) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		handler: h,
		logger:  logger,
		trace:   opts.Trace,
		ctx:     ctx,
		cancel:  cancel,
		quit:    make(chan struct{}),
		conns:   make(map[*client]struct{}),
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.logger.Info("server listening", "addr", listener.Addr().String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// ServeWithListener serves on an existing listener until Stop is called.
func (s *Server) ServeWithListener(listener net.Listener) error {
	s.listener = listener
	s.logger.Info("server listening", "addr", listener.Addr().String())
	s.acceptLoop()
	return nil
}

// Addr returns the listening address, once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every connection, and waits for their
// goroutines. Blocked commands are interrupted.
func (s *Server) Stop() {
	select {
	case <-s.quit:
		return
	default:
	}
	close(s.quit)
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for c := range s.conns {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) track(c *client, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	c := newClient(conn)
	s.track(c, true)
	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Inc()

	logger := s.logger.With("client", c.GetID(), "addr", c.session.Addr)
	logger.Debug("client connected")

	defer func() {
		s.handler.ReleaseSession(c.session)
		s.track(c, false)
		metrics.ActiveConnections.Dec()
		logger.Debug("client disconnected")
	}()

	reader := resp.NewReader(conn)
	for {
		cmd, err := reader.Read()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			case errors.Is(err, resp.ErrProtocol):
				logger.Debug("protocol error", "error", err)
				c.reply([]resp.Value{resp.ErrRaw("ERR Protocol error: " + strings.TrimPrefix(err.Error(), "protocol error: "))}, true)
			default:
				logger.Debug("read error", "error", err)
			}
			return
		}
		if cmd.Type == resp.Array && len(cmd.Array) == 0 {
			continue
		}

		s.traceValue(c, "<-", cmd)
		replies := s.handler.Handle(s.ctx, c.session, cmd)
		for _, r := range replies {
			if r.IsError() && logger.IsDebug() {
				logger.Debug("error reply", "command", commandName(cmd), "reply", r.Str)
			}
			s.traceValue(c, "->", r)
		}

		if err := c.reply(replies, reader.Buffered() == 0 || c.session.Closing()); err != nil {
			logger.Debug("write error", "error", err)
			return
		}
		if c.session.Closing() {
			return
		}
	}
}

func commandName(cmd resp.Value) string {
	if len(cmd.Array) == 0 {
		return ""
	}
	return strings.ToUpper(cmd.Array[0].Text())
}

// traceValue logs a command or reply at trace level.
func (s *Server) traceValue(c *client, dir string, v resp.Value) {
	if !s.trace || !s.logger.IsTrace() {
		return
	}
	s.logger.Trace(fmt.Sprintf("%s %s %s", c.session.Addr, dir, formatRESPValue(v)))
}

// formatRESPValue formats a RESP value for trace logging, detecting binary data
func formatRESPValue(v resp.Value) string {
	switch v.Type {
	case resp.Array, resp.Map, resp.Set, resp.Push:
		if v.Null {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, elem := range v.Array {
			parts[i] = formatRESPValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case resp.BulkString:
		if v.Null {
			return "(nil)"
		}
		return formatTraceString(v.Bulk)
	case resp.SimpleString:
		return "+" + v.Str
	case resp.Error:
		return "-" + v.Str
	case resp.Integer:
		return fmt.Sprintf(":%d", v.Num)
	case resp.Double:
		return "," + fmt.Sprint(v.Dbl)
	case resp.Boolean:
		return fmt.Sprintf("#%t", v.Num != 0)
	case resp.Null:
		return "(nil)"
	default:
		return formatTraceString(v.Bulk)
	}
}

// formatTraceString formats a string for trace logging, detecting binary data
func formatTraceString(s string) string {
	if isBinaryString(s) {
		return fmt.Sprintf("<binary:%s>", formatTraceSize(len(s)))
	}
	if len(s) > 100 {
		return fmt.Sprintf("\"%s...\" (%s)", s[:100], formatTraceSize(len(s)))
	}
	return fmt.Sprintf("\"%s\"", s)
}

// isBinaryString checks if a string contains binary data
func isBinaryString(s string) bool {
	if !utf8.ValidString(s) {
		return true
	}
	for _, r := range s {
		// control characters other than common whitespace
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// formatTraceSize formats a size for trace logging
func formatTraceSize(size int) string {
	if size < 1024 {
		return fmt.Sprintf("%dB", size)
	}
	if size < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(size)/1024)
	}
	return fmt.Sprintf("%.1fMB", float64(size)/(1024*1024))
}
