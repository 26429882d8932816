// Package replication implements the single-writer actor that owns the
// replica table and the write ledger, the primary-side PSYNC/RDB
// framing, and the replica-side handshake client that replays a
// primary's write stream into a local store.
package replication

import (
	"fmt"
	"net"
	"time"

	"goredis/internal/logging"
	"goredis/internal/metrics"
	"goredis/internal/protocol"
	"goredis/internal/storage"
)

var log = logging.For("coordinator")

// ReplicaLink is a single attached replica: a stable peer address, a
// write-only view of its socket, and the last byte offset it reported
// via REPLCONF ACK. The coordinator is the only writer of Offset; the
// connection handler that owns the read side of this socket never
// touches it directly.
type ReplicaLink struct {
	Addr   string
	Conn   net.Conn
	Offset int64
}

// WriteLedger tracks the two counters WAIT's ack-target arithmetic is
// built on. TotalWriteBytes only grows; LastWriteBytes is replaced by
// every propagated frame, including REPLCONF GETACK frames.
type WriteLedger struct {
	TotalWriteBytes int64
	LastWriteBytes  int64
}

// Coordinator is the actor described in the component design: one
// goroutine processes message, the store mutex aside, every other piece
// of shared state belongs to it alone.
type Coordinator struct {
	store    *storage.Store
	replicas map[string]*ReplicaLink
	ledger   WriteLedger
	inbox    chan message
}

// NewCoordinator returns a Coordinator that is not yet running. Call Run
// in its own goroutine before sending it messages.
func NewCoordinator(store *storage.Store) *Coordinator {
	return &Coordinator{
		store:    store,
		replicas: make(map[string]*ReplicaLink),
		inbox:    make(chan message, 256),
	}
}

// message is the sealed set of things the actor's loop accepts. Only
// this package may implement it.
type message interface {
	isMessage()
}

type msgAttachReplica struct {
	addr string
	conn net.Conn
}

type msgDetachReplica struct {
	addr string
}

type msgPropagate struct {
	frame []byte
}

type msgApplySet struct {
	key   string
	value []byte
	ttl   *time.Duration
}

type msgReadGet struct {
	conn net.Conn
	key  string
	done chan struct{}
}

type msgUpdateOffset struct {
	addr   string
	offset int64
}

type msgWait struct {
	conn      net.Conn
	n         int
	timeoutMS int64
}

type msgWaitTimerFired struct {
	conn   net.Conn
	target int64
	n      int
}

func (msgAttachReplica) isMessage()   {}
func (msgDetachReplica) isMessage()   {}
func (msgPropagate) isMessage()       {}
func (msgApplySet) isMessage()        {}
func (msgReadGet) isMessage()         {}
func (msgUpdateOffset) isMessage()    {}
func (msgWait) isMessage()            {}
func (msgWaitTimerFired) isMessage()  {}

// AttachReplica registers conn, keyed by its remote address, as a
// replica link. Called by the connection handler after it has answered
// PSYNC and sent the RDB payload.
func (c *Coordinator) AttachReplica(addr string, conn net.Conn) {
	c.inbox <- msgAttachReplica{addr: addr, conn: conn}
}

// DetachReplica removes addr from the replica table. Called by the
// connection handler when its read loop observes EOF or an error while
// in replica-link mode.
func (c *Coordinator) DetachReplica(addr string) {
	c.inbox <- msgDetachReplica{addr: addr}
}

// Propagate fans frame out to every attached replica and folds its
// length into the write ledger.
func (c *Coordinator) Propagate(frame []byte) {
	c.inbox <- msgPropagate{frame: frame}
}

// ApplySet writes key/value/ttl into the store via the actor, so it is
// ordered against Propagate and Wait from the same connection.
func (c *Coordinator) ApplySet(key string, value []byte, ttl *time.Duration) {
	c.inbox <- msgApplySet{key: key, value: value, ttl: ttl}
}

// ReadGet asks the actor to look up key and write the RESP reply
// directly to conn. It blocks until the write has happened, so the
// calling handler does not read the next frame off the same socket
// before this reply has gone out.
func (c *Coordinator) ReadGet(conn net.Conn, key string) {
	done := make(chan struct{})
	c.inbox <- msgReadGet{conn: conn, key: key, done: done}
	<-done
}

// UpdateOffset records the byte offset addr last reported via
// REPLCONF ACK.
func (c *Coordinator) UpdateOffset(addr string, offset int64) {
	c.inbox <- msgUpdateOffset{addr: addr, offset: offset}
}

// Wait forwards a WAIT command. The reply is written by the actor
// itself — immediately for n == 0, otherwise by the timer task once
// timeoutMS elapses — so this call does not block the caller.
func (c *Coordinator) Wait(conn net.Conn, n int, timeoutMS int64) {
	c.inbox <- msgWait{conn: conn, n: n, timeoutMS: timeoutMS}
}

// Run processes the inbox until it is closed. It owns replicas and
// ledger exclusively; nothing outside this loop may read or write them.
func (c *Coordinator) Run() {
	for msg := range c.inbox {
		switch m := msg.(type) {
		case msgAttachReplica:
			c.replicas[m.addr] = &ReplicaLink{Addr: m.addr, Conn: m.conn, Offset: 0}
			metrics.ConnectedReplicas.Set(float64(len(c.replicas)))
			log.WithField("replica", m.addr).Info("replica attached")

		case msgDetachReplica:
			delete(c.replicas, m.addr)
			metrics.ConnectedReplicas.Set(float64(len(c.replicas)))
			log.WithField("replica", m.addr).Info("replica detached")

		case msgPropagate:
			c.propagate(m.frame)

		case msgApplySet:
			c.store.Set(m.key, m.value, m.ttl)
			metrics.KeysStored.Set(float64(c.store.Len()))

		case msgReadGet:
			c.handleReadGet(m)

		case msgUpdateOffset:
			if link, ok := c.replicas[m.addr]; ok {
				link.Offset = m.offset
			}

		case msgWait:
			c.handleWait(m)

		case msgWaitTimerFired:
			c.handleWaitTimerFired(m)

		default:
			log.WithField("type", fmt.Sprintf("%T", msg)).Error("unhandled coordinator message")
		}
	}
}

// propagate writes frame to every attached replica and updates the
// ledger. A write failure is logged and the link is kept — it is only
// removed when the handler's reader observes EOF and calls
// DetachReplica; there is no retry.
func (c *Coordinator) propagate(frame []byte) {
	for addr, link := range c.replicas {
		if _, err := link.Conn.Write(frame); err != nil {
			log.WithError(err).WithField("replica", addr).Warn("propagate write failed")
		}
	}
	c.ledger.LastWriteBytes = int64(len(frame))
	c.ledger.TotalWriteBytes += int64(len(frame))
	metrics.TotalWriteBytes.Set(float64(c.ledger.TotalWriteBytes))
	metrics.LastWriteBytes.Set(float64(c.ledger.LastWriteBytes))
}

func (c *Coordinator) handleReadGet(m msgReadGet) {
	value, ok := c.store.Get(m.key)
	var reply []byte
	if !ok {
		reply = protocol.EncodeNullBulkString()
	} else {
		reply = protocol.EncodeBulkStringBytes(value)
	}
	if _, err := m.conn.Write(reply); err != nil {
		log.WithError(err).Warn("GET reply write failed")
	}
	close(m.done)
}

// getAckFrame is the REPLCONF GETACK * frame the primary periodically
// propagates to prompt replicas for their offset.
func getAckFrame() []byte {
	return protocol.EncodeArray([]string{"REPLCONF", "GETACK", "*"})
}

func (c *Coordinator) handleWait(m msgWait) {
	if c.ledger.TotalWriteBytes > 0 {
		c.propagate(getAckFrame())
	}

	// last_write_bytes now equals len(GETACK frame) if one was sent, so
	// total - last is everything strictly before this WAIT's GETACK —
	// i.e. everything the client's preceding writes contributed.
	target := c.ledger.TotalWriteBytes - c.ledger.LastWriteBytes

	if m.n == 0 {
		if _, err := m.conn.Write(protocol.EncodeInteger(0)); err != nil {
			log.WithError(err).Warn("WAIT reply write failed")
		}
		metrics.WaitCallsServed.Inc()
		return
	}

	n, conn := m.n, m.conn
	timeout := time.Duration(m.timeoutMS) * time.Millisecond
	inbox := c.inbox
	time.AfterFunc(timeout, func() {
		inbox <- msgWaitTimerFired{conn: conn, target: target, n: n}
	})
}

func (c *Coordinator) handleWaitTimerFired(m msgWaitTimerFired) {
	synced := 0
	for _, link := range c.replicas {
		if link.Offset == m.target {
			synced++
		}
	}
	if _, err := m.conn.Write(protocol.EncodeInteger(synced)); err != nil {
		log.WithError(err).Warn("WAIT reply write failed")
	}
	metrics.WaitCallsServed.Inc()
}
