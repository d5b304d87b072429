package wsclient

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/wsclient/internal/wsbuf"
)

// Config controls the behavior of a Dialer and the Clients it
// produces. The zero Config is usable: every field has a workable
// default.
type Config struct {
	// Header carries extra request headers sent with the opening
	// handshake (Origin, Authorization, cookies, ...).
	Header http.Header

	// Subprotocols lists the client's supported subprotocols in order
	// of preference, each sent as its own Sec-WebSocket-Protocol header
	// line. Selecting among the server's response is the caller's
	// concern; Client only records what the server chose.
	Subprotocols []string

	// HandshakeTimeout bounds how long Dial waits for the TCP connect,
	// TLS handshake, and HTTP upgrade exchange combined. Zero means no
	// timeout beyond ctx.
	HandshakeTimeout time.Duration

	// MaxMessageSize bounds an assembled message's size. Zero selects
	// DefaultMaxMessageSize.
	MaxMessageSize int64

	// TLSConfig is used for wss:// connections. A nil value uses Go's
	// default configuration with SNI set from the URL host.
	TLSConfig *tls.Config

	// Logger receives structured connection lifecycle events: connect,
	// handshake failure, ping/pong, close. It never logs payload
	// bytes. A nil Logger discards everything.
	Logger *zerolog.Logger
}

func (c *Config) logger() zerolog.Logger {
	if c.Logger == nil {
		return zerolog.Nop()
	}
	return *c.Logger
}

// Dialer establishes WebSocket client connections using a fixed
// Config. The zero Dialer is ready to use.
type Dialer struct {
	Config Config
}

// Client is a single established WebSocket connection. All exported
// methods are safe to call from one goroutine reading and a different
// goroutine writing; Send additionally serializes with any Ping/Pong
// the connection sends automatically, and Close serializes with both.
type Client struct {
	conn   net.Conn
	log    zerolog.Logger
	subpro string

	decoder *Decoder
	encoder *Encoder
	rx      wsbuf.Buffer
	tx      wsbuf.Buffer

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Dial opens a TCP (or TLS, for wss://) connection to rawURL, performs
// the opening handshake, and returns a ready Client. rawURL must have
// scheme ws or wss.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wsclient: parsing url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("wsclient: unsupported scheme %q, want ws or wss", u.Scheme)
	}

	log := d.Config.logger()

	if d.Config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Config.HandshakeTimeout)
		defer cancel()
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if u.Scheme == "wss" {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}

	log.Info().Str("url", rawURL).Msg("dialing")

	var dialer net.Dialer
	rawConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}

	netConn := net.Conn(rawConn)
	if u.Scheme == "wss" {
		tlsConfig := d.Config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName, _, _ = net.SplitHostPort(host)
		}
		tlsConn := tls.Client(rawConn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			rawConn.Close()
			return nil, fmt.Errorf("wsclient: tls handshake: %w", err)
		}
		netConn = tlsConn
	}

	if dl, ok := ctx.Deadline(); ok {
		netConn.SetDeadline(dl)
	}

	header := d.Config.Header.Clone()
	if len(d.Config.Subprotocols) > 0 {
		if header == nil {
			header = make(http.Header)
		}
		for _, p := range d.Config.Subprotocols {
			header.Add("Sec-WebSocket-Protocol", p)
		}
	}

	hr, err := newHandshakeRequest()
	if err != nil {
		netConn.Close()
		return nil, err
	}

	var tx wsbuf.Buffer
	u2 := *u
	u2.Host = host
	writeHandshakeRequest(&tx, &u2, hr, header)
	if _, err := netConn.Write(tx.Unread()); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("wsclient: writing handshake request: %w", err)
	}

	br := bufio.NewReader(netConn)
	result, err := readHandshakeResponse(br, hr)
	if err != nil {
		netConn.Close()
		log.Error().Err(err).Msg("handshake failed")
		return nil, err
	}

	// Clear the deadline set for the handshake; steady-state read/write
	// deadlines, if any, are the caller's responsibility via ctx on
	// each Send/Receive.
	netConn.SetDeadline(time.Time{})

	maxMessageSize := d.Config.MaxMessageSize
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}

	c := &Client{
		conn:    netConn,
		log:     log,
		subpro:  result.subprotocol,
		decoder: NewDecoder(maxMessageSize),
		encoder: NewEncoder(),
		closed:  make(chan struct{}),
	}
	if len(result.leftover) > 0 {
		c.rx.Write(result.leftover)
	}

	log.Info().Str("subprotocol", c.subpro).Msg("connected")
	return c, nil
}

// Subprotocol returns the subprotocol the server selected, or "" if
// none was negotiated.
func (c *Client) Subprotocol() string { return c.subpro }

// Receive blocks until a complete Message is available, ctx is done,
// or the connection fails. Automatic Pings the peer sent are answered
// with a Pong before Receive returns to the caller; Receive itself
// never surfaces Ping as a caller-visible Message kind that requires
// a reply. A protocol violation reports a Close frame carrying its
// close code to the peer before Receive returns the error. The
// returned Message's Payload aliases the connection's receive buffer
// and is valid only until the next Receive call.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	for {
		select {
		case <-c.closed:
			return Message{}, c.closeErrLocked()
		default:
		}

		msg, status, err := c.decoder.Decode(&c.rx)
		if err != nil {
			return Message{}, c.fail(err)
		}
		if status == DecodeMessage {
			switch msg.Kind {
			case KindPing:
				c.log.Debug().Msg("ping received")
				if werr := c.sendControl(KindPong, msg.Payload); werr != nil {
					return Message{}, c.fail(werr)
				}
				continue
			case KindClose:
				c.log.Info().Uint16("code", msg.CloseCode).Msg("close received")
				c.respondToClose(msg.CloseCode)
				return msg, c.fail(errPeerClosed)
			}
			return msg, nil
		}

		if c.decoder.Idle() {
			c.rx.Compact()
		}
		if err := c.fill(ctx); err != nil {
			return Message{}, c.fail(err)
		}
	}
}

// errPeerClosed marks a clean close initiated by the peer; Receive
// returns it alongside the final KindClose Message so callers can
// distinguish "connection ended because the peer said so" from a
// transport failure, while Client still reports itself closed
// afterward.
var errPeerClosed = fmt.Errorf("wsclient: peer closed the connection")

// fill reads more bytes from the network into rx, respecting ctx
// cancellation via the connection's deadline.
func (c *Client) fill(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(dl)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	stop := c.watchCancel(ctx)
	defer stop()

	dst := c.rx.Grow(4096)
	n, err := c.conn.Read(dst)
	c.rx.Truncate(c.rx.Len() - (len(dst) - n))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("wsclient: read: %w", err)
	}
	return nil
}

// watchCancel arms a deadline on c.conn the instant ctx is done, so a
// blocked Read/Write unblocks even when ctx carries no Deadline of its
// own. The caller must call the returned stop func once the
// operation finishes, successfully or not, to disarm it.
func (c *Client) watchCancel(ctx context.Context) (stop func() bool) {
	if ctx.Done() == nil {
		return func() bool { return false }
	}
	return context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
}

// Send transmits a Text or Binary message. It does not allocate once
// tx has grown to accommodate a payload of this size.
func (c *Client) Send(ctx context.Context, kind MessageKind, payload []byte) error {
	if kind != KindText && kind != KindBinary {
		return fmt.Errorf("wsclient: Send only accepts KindText or KindBinary, got %v", kind)
	}
	select {
	case <-c.closed:
		return c.closeErrLocked()
	default:
	}
	c.writeMu.Lock()
	c.tx.Reset()
	c.encoder.EncodeData(&c.tx, kind, payload)
	err := c.flush(ctx)
	c.writeMu.Unlock()
	if err != nil {
		return c.fail(err)
	}
	return nil
}

// sendControl transmits a Ping or Pong control frame.
func (c *Client) sendControl(kind MessageKind, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.tx.Reset()
	if err := c.encoder.EncodeControl(&c.tx, kind, payload); err != nil {
		return err
	}
	return c.flush(context.Background())
}

func (c *Client) flush(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	} else {
		c.conn.SetWriteDeadline(time.Time{})
	}
	stop := c.watchCancel(ctx)
	defer stop()

	if _, err := c.conn.Write(c.tx.Unread()); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("wsclient: write: %w", err)
	}
	return nil
}

// Close performs the RFC 6455 closing handshake: it sends a Close
// frame with code, waits briefly for the peer's own Close in
// response, then tears down the transport. Calling Close more than
// once is safe; only the first call's code/reason take effect.
func (c *Client) Close(code uint16, reason string) error {
	c.closeOnce.Do(func() {
		c.log.Info().Uint16("code", code).Msg("closing")
		c.writeMu.Lock()
		c.tx.Reset()
		encErr := c.encoder.EncodeClose(&c.tx, code, reason)
		var writeErr error
		if encErr == nil {
			writeErr = c.flush(context.Background())
		}
		c.writeMu.Unlock()

		c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		c.drainUntilClose()

		closeErr := c.conn.Close()
		close(c.closed)

		switch {
		case encErr != nil:
			c.closeErr = fmt.Errorf("%w: %w", ErrConnectionClosed, encErr)
		case writeErr != nil:
			c.closeErr = fmt.Errorf("%w: %w", ErrConnectionClosed, writeErr)
		case closeErr != nil:
			c.closeErr = fmt.Errorf("%w: %w", ErrConnectionClosed, closeErr)
		default:
			c.closeErr = ErrConnectionClosed
		}
	})
	return c.closeErrLocked()
}

// drainUntilClose reads and discards frames until it sees the peer's
// Close, hits its read deadline, or the connection fails; any of
// these ends the closing handshake from this side.
func (c *Client) drainUntilClose() {
	for {
		msg, status, err := c.decoder.Decode(&c.rx)
		if err != nil {
			return
		}
		if status == DecodeMessage {
			if msg.Kind == KindClose {
				return
			}
			continue
		}
		if c.decoder.Idle() {
			c.rx.Compact()
		}
		dst := c.rx.Grow(4096)
		n, err := c.conn.Read(dst)
		c.rx.Truncate(c.rx.Len() - (len(dst) - n))
		if err != nil {
			return
		}
	}
}

// respondToClose answers a peer-initiated close: echo the status code
// back (or 1000 if the peer sent none), RFC 6455 Section 7.4.1.
func (c *Client) respondToClose(peerCode uint16) {
	code := peerCode
	if code == 0 {
		code = CloseNormalClosure
	}
	c.writeMu.Lock()
	c.tx.Reset()
	if c.encoder.EncodeClose(&c.tx, code, "") == nil {
		c.flush(context.Background())
	}
	c.writeMu.Unlock()
	c.conn.Close()
}

// fail records err as the reason Client became unusable. If err is a
// *ProtocolError it first sends a Close frame carrying the violation's
// close code (RFC 6455 Section 7.1.7: "Propagation") on a best-effort
// basis, then tears down the transport. It returns err unwrapped, so
// this call's caller still sees the specific failure; closeErrLocked
// wraps it with ErrConnectionClosed for every call after this one.
func (c *Client) fail(err error) error {
	select {
	case <-c.closed:
	default:
		c.closeOnce.Do(func() {
			c.sendCloseForError(err)
			c.closeErr = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
			c.conn.Close()
			close(c.closed)
		})
	}
	return err
}

// sendCloseForError writes a Close frame carrying a *ProtocolError's
// close code before the connection is torn down; for any other kind
// of failure (a read/write error, a cancelled context) there is no
// code to report and nothing is sent. Any error encoding or writing
// the frame is ignored: the connection is already being abandoned.
func (c *Client) sendCloseForError(err error) {
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.tx.Reset()
	if c.encoder.EncodeClose(&c.tx, pe.Code, "") == nil {
		c.flush(context.Background())
	}
}

func (c *Client) closeErrLocked() error {
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}
