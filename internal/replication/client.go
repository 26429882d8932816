package replication

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"goredis/internal/logging"
	"goredis/internal/protocol"
)

var clientLog = logging.For("replica-client")

// Client runs the replica-side handshake and replay loop against a
// single configured primary. It is started once at startup when the
// process is given --replicaof and never changes role at runtime.
type Client struct {
	primaryAddr string
	ownPort     int
	coordinator *Coordinator
}

// NewClient builds a replica-side client that will connect to
// primaryAddr ("host:port") and apply replicated writes through
// coordinator, the same actor the primary-side handler uses.
func NewClient(primaryAddr string, ownPort int, coordinator *Coordinator) *Client {
	return &Client{
		primaryAddr: primaryAddr,
		ownPort:     ownPort,
		coordinator: coordinator,
	}
}

// Run performs the handshake once and then replays the primary's write
// stream forever, applying SET commands to the local store and
// answering REPLCONF GETACK. It returns only on an unrecoverable
// connection error.
func (c *Client) Run() error {
	conn, err := net.Dial("tcp", c.primaryAddr)
	if err != nil {
		return fmt.Errorf("replica: dial primary %s: %w", c.primaryAddr, err)
	}
	defer conn.Close()

	buf, err := c.handshake(conn)
	if err != nil {
		return fmt.Errorf("replica: handshake with %s: %w", c.primaryAddr, err)
	}

	clientLog.WithField("primary", c.primaryAddr).Info("handshake complete, entering replay loop")
	return c.replayLoop(conn, buf)
}

// handshake performs the fixed PING/REPLCONF/PSYNC sequence and
// consumes the FULLRESYNC line plus the RDB payload that follows it.
// It returns any bytes read past the RDB payload, which belong to the
// replay loop.
func (c *Client) handshake(conn net.Conn) ([]byte, error) {
	if err := send(conn, protocol.EncodeArray([]string{"PING"})); err != nil {
		return nil, err
	}
	buf, err := readOneFrame(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("reading PING reply: %w", err)
	}

	if err := send(conn, protocol.EncodeArray([]string{"REPLCONF", "listening-port", strconv.Itoa(c.ownPort)})); err != nil {
		return nil, err
	}
	buf, err = discardFrame(conn, buf)
	if err != nil {
		return nil, fmt.Errorf("reading REPLCONF listening-port reply: %w", err)
	}

	if err := send(conn, protocol.EncodeArray([]string{"REPLCONF", "capa", "psync2"})); err != nil {
		return nil, err
	}
	buf, err = discardFrame(conn, buf)
	if err != nil {
		return nil, fmt.Errorf("reading REPLCONF capa reply: %w", err)
	}

	if err := send(conn, protocol.EncodeArray([]string{"PSYNC", "?", "-1"})); err != nil {
		return nil, err
	}

	// FULLRESYNC is a simple string, not a bulk/array, but it still frames
	// through the generic Parse — only the RDB payload needs the special
	// truncated-header reader.
	buf, err = discardFrame(conn, buf)
	if err != nil {
		return nil, fmt.Errorf("reading FULLRESYNC reply: %w", err)
	}

	buf, err = c.readRDBPayload(conn, buf)
	if err != nil {
		return nil, fmt.Errorf("reading RDB payload: %w", err)
	}

	return buf, nil
}

// readRDBPayload consumes the "$<n>\r\n<n bytes>" header (no trailing
// CRLF) that follows FULLRESYNC, discarding the payload itself.
func (c *Client) readRDBPayload(conn net.Conn, buf []byte) ([]byte, error) {
	length, rest, err := protocol.ParseRDBHeader(buf)
	for err == protocol.ErrIncomplete {
		buf, err = readMore(conn, buf)
		if err != nil {
			return nil, err
		}
		length, rest, err = protocol.ParseRDBHeader(buf)
	}
	if err != nil {
		return nil, err
	}
	buf = rest

	for len(buf) < length {
		more, err := readMore(conn, buf)
		if err != nil {
			return nil, err
		}
		buf = more
	}
	return buf[length:], nil
}

// replayLoop frames one command at a time from the primary's write
// stream, applies or answers it, and advances offset by the exact byte
// length of the frame just consumed — never including the frame
// currently being handled.
func (c *Client) replayLoop(conn net.Conn, buf []byte) error {
	var offset int64

	for {
		var value protocol.Value
		var rest []byte
		var err error

		value, rest, err = protocol.Parse(buf)
		for err == protocol.ErrIncomplete {
			buf, err = readMore(conn, buf)
			if err != nil {
				return err
			}
			value, rest, err = protocol.Parse(buf)
		}
		if err != nil {
			return fmt.Errorf("replica: framing error: %w", err)
		}

		frameLen := len(buf) - len(rest)

		cmd, cmdErr := protocol.FromValue(value)
		if cmdErr != nil {
			clientLog.WithError(cmdErr).Warn("ignoring unparsable replicated frame")
		} else {
			c.apply(conn, cmd, offset)
		}

		offset += int64(frameLen)
		buf = rest
	}
}

func (c *Client) apply(conn net.Conn, cmd protocol.Command, offsetBeforeThisFrame int64) {
	switch v := cmd.(type) {
	case protocol.SetCommand:
		var ttl *time.Duration
		if v.PX != nil {
			d := time.Duration(*v.PX) * time.Millisecond
			ttl = &d
		}
		c.coordinator.ApplySet(v.Key, v.Value, ttl)

	case protocol.ReplConfCommand:
		if v.Subcommand == "getack" {
			ack := protocol.EncodeArray([]string{"REPLCONF", "ACK", strconv.FormatInt(offsetBeforeThisFrame, 10)})
			if err := send(conn, ack); err != nil {
				clientLog.WithError(err).Warn("failed to send REPLCONF ACK")
			}
		}

	default:
		// Anything else in the replay stream is ignored, per the
		// handshake's replay-loop contract.
	}
}

func send(conn net.Conn, frame []byte) error {
	_, err := conn.Write(frame)
	return err
}

// discardFrame reads and throws away exactly one RESP value, returning
// whatever bytes remain buffered afterward.
func discardFrame(conn net.Conn, buf []byte) ([]byte, error) {
	return readOneFrame(conn, buf)
}

func readOneFrame(conn net.Conn, buf []byte) ([]byte, error) {
	_, rest, err := protocol.Parse(buf)
	for err == protocol.ErrIncomplete {
		buf, err = readMore(conn, buf)
		if err != nil {
			return nil, err
		}
		_, rest, err = protocol.Parse(buf)
	}
	if err != nil {
		return nil, err
	}
	return rest, nil
}

// readMore grows buf with whatever the connection has ready. There is
// no fixed read-buffer size: each call appends up to 4096 new bytes, and
// callers loop until framing succeeds.
func readMore(conn net.Conn, buf []byte) ([]byte, error) {
	chunk := make([]byte, 4096)
	n, err := conn.Read(chunk)
	if n > 0 {
		buf = append(buf, chunk[:n]...)
	}
	if err != nil {
		return buf, err
	}
	return buf, nil
}
