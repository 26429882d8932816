// Package handler implements the per-connection RESP command dispatch:
// read framed RESP, classify it as a command, answer PING, ECHO, INFO and
// CONFIG GET directly, and forward GET and state-mutating commands to the
// coordinator.
package handler

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"goredis/internal/logging"
	"goredis/internal/protocol"
	"goredis/internal/replication"
)

var log = logging.For("handler")

// Info carries the pieces of server configuration the handler needs to
// answer INFO and CONFIG GET. It is a narrow view of server.Config, kept
// separate so this package does not import server (which imports this
// one).
type Info struct {
	Role       string // "master" or "slave"
	Dir        string
	DBFilename string
}

// Handler serves one accepted connection end to end: ordinary client
// traffic, or — once PSYNC is seen — the replica-link mode where the
// only remaining job is reading REPLCONF ACK frames.
type Handler struct {
	conn        net.Conn
	coordinator *replication.Coordinator
	info        Info

	isReplicaLink bool
	peerAddr      string
}

// New returns a handler for a freshly accepted connection. Read-only
// store access goes through coordinator.ReadGet, so the handler itself
// never touches the store directly.
func New(conn net.Conn, coordinator *replication.Coordinator, info Info) *Handler {
	return &Handler{
		conn:        conn,
		coordinator: coordinator,
		info:        info,
		peerAddr:    conn.RemoteAddr().String(),
	}
}

// Serve runs the connection's read loop until a read returns EOF or an
// error. A malformed frame is logged and the buffered bytes are dropped;
// a failed reply write is logged; neither ends the loop. When the read
// loop ends while in replica-link mode, it detaches the replica from the
// coordinator.
func (h *Handler) Serve() {
	defer h.conn.Close()

	var buf []byte
	for {
		value, rest, err := protocol.Parse(buf)
		for err == protocol.ErrIncomplete {
			buf, err = h.readMore(buf)
			if err != nil {
				h.onClosed(err)
				return
			}
			value, rest, err = protocol.Parse(buf)
		}
		if err != nil {
			var malformed *protocol.ErrMalformed
			if errors.As(err, &malformed) {
				log.WithField("peer", h.peerAddr).WithError(err).Warn("discarding malformed frame")
				buf = nil
				continue
			}
			h.onClosed(err)
			return
		}
		buf = rest

		if h.isReplicaLink {
			h.handleReplicaLinkFrame(value)
			continue
		}

		cmd, err := protocol.FromValue(value)
		if err != nil {
			log.WithField("peer", h.peerAddr).WithError(err).Warn("unknown or malformed command")
			continue
		}

		rawFrame := protocol.Encode(value)
		h.dispatch(cmd, rawFrame)
	}
}

func (h *Handler) onClosed(err error) {
	if h.isReplicaLink {
		h.coordinator.DetachReplica(h.peerAddr)
	}
	if err != io.EOF {
		log.WithField("peer", h.peerAddr).WithError(err).Debug("connection closed")
	}
}

// readMore grows buf with whatever bytes the socket has ready. There is
// no fixed buffer size; frames larger than a single read are
// accommodated by looping in Serve.
func (h *Handler) readMore(buf []byte) ([]byte, error) {
	chunk := make([]byte, 4096)
	n, err := h.conn.Read(chunk)
	if n > 0 {
		buf = append(buf, chunk[:n]...)
	}
	if err != nil {
		return buf, err
	}
	return buf, nil
}

// dispatch executes one classified command. PSYNC flips h.isReplicaLink
// as a side effect; Serve picks that up on its next loop iteration and
// starts treating incoming frames as replica-link traffic instead of
// ordinary commands — the connection itself stays open throughout.
func (h *Handler) dispatch(cmd protocol.Command, rawFrame []byte) {
	switch v := cmd.(type) {
	case protocol.PingCommand:
		h.write(protocol.EncodeSimpleString("PONG"))

	case protocol.EchoCommand:
		h.write(protocol.EncodeSimpleString(string(v.Message)))

	case protocol.GetCommand:
		h.coordinator.ReadGet(h.conn, v.Key)

	case protocol.SetCommand:
		var ttl *time.Duration
		if v.PX != nil {
			d := time.Duration(*v.PX) * time.Millisecond
			ttl = &d
		}
		h.coordinator.ApplySet(v.Key, v.Value, ttl)
		h.write(protocol.EncodeSimpleString("OK"))
		h.coordinator.Propagate(rawFrame)

	case protocol.InfoCommand:
		h.write(protocol.EncodeBulkString(h.replicationInfo()))

	case protocol.ReplConfCommand:
		h.handleReplConf(v)

	case protocol.PSyncCommand:
		h.handlePSync()

	case protocol.WaitCommand:
		h.coordinator.Wait(h.conn, v.NumReplicas, v.TimeoutMS)

	case protocol.ConfigGetCommand:
		h.handleConfigGet(v)

	default:
		log.WithField("peer", h.peerAddr).Warn("unhandled command type")
	}
}

func (h *Handler) write(b []byte) {
	if _, err := h.conn.Write(b); err != nil {
		log.WithField("peer", h.peerAddr).WithError(err).Warn("reply write failed")
	}
}

func (h *Handler) replicationInfo() string {
	role := h.info.Role
	if role == "" {
		role = "master"
	}
	return fmt.Sprintf(
		"role:%s\r\nmaster_replid:%s\r\nmaster_repl_offset:0",
		role, replication.MasterReplID,
	)
}

// handleReplConf answers the handshake subcommands with +OK, records an
// asynchronous ACK with no reply, and otherwise ignores unknown
// variants.
func (h *Handler) handleReplConf(v protocol.ReplConfCommand) {
	switch v.Subcommand {
	case "listening-port", "capa", "getack":
		h.write(protocol.EncodeSimpleString("OK"))
	case "ack":
		if len(v.Args) != 1 {
			return
		}
		offset, err := parseOffset(v.Args[0])
		if err != nil {
			log.WithField("peer", h.peerAddr).WithError(err).Warn("malformed REPLCONF ACK")
			return
		}
		h.coordinator.UpdateOffset(h.peerAddr, offset)
	}
}

func parseOffset(s string) (int64, error) {
	var n int64
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// handlePSync answers the handshake with FULLRESYNC, sends the fixed
// empty RDB snapshot using the truncated bulk-header framing, attaches
// this connection as a replica, and flips the connection into
// replica-link mode.
func (h *Handler) handlePSync() {
	h.write(protocol.EncodeSimpleString(fmt.Sprintf("FULLRESYNC %s 0", replication.MasterReplID)))

	rdb := replication.EmptyRDB
	h.write(protocol.EncodeRDBHeader(len(rdb)))
	h.write(rdb)

	h.coordinator.AttachReplica(h.peerAddr, h.conn)
	h.isReplicaLink = true
}

// handleReplicaLinkFrame is the only thing a replica-link connection
// does from here on: read REPLCONF ACK frames. Anything else received
// on this socket is ignored.
func (h *Handler) handleReplicaLinkFrame(value protocol.Value) {
	cmd, err := protocol.FromValue(value)
	if err != nil {
		return
	}
	if rc, ok := cmd.(protocol.ReplConfCommand); ok {
		h.handleReplConf(rc)
	}
}

func (h *Handler) handleConfigGet(v protocol.ConfigGetCommand) {
	var value string
	switch v.Parameter {
	case "dir":
		value = h.info.Dir
	case "dbfilename":
		value = h.info.DBFilename
	default:
		h.write(protocol.EncodeArray([]string{}))
		return
	}
	h.write(protocol.EncodeArray([]string{v.Parameter, value}))
}
