package handler

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goredis/internal/protocol"
	"goredis/internal/replication"
	"goredis/internal/storage"
)

func newTestHandler(t *testing.T, info Info) (client net.Conn) {
	t.Helper()
	store := storage.NewStore()
	coordinator := replication.NewCoordinator(store)
	go coordinator.Run()

	clientConn, serverConn := net.Pipe()
	h := New(serverConn, coordinator, info)
	go h.Serve()

	t.Cleanup(func() { clientConn.Close() })
	return clientConn
}

func readReply(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	got := 0
	for got < n {
		m, err := conn.Read(buf[got:])
		require.NoError(t, err)
		got += m
	}
	return buf[:got]
}

func TestPing(t *testing.T) {
	conn := newTestHandler(t, Info{})
	_, err := conn.Write(protocol.EncodeArray([]string{"PING"}))
	require.NoError(t, err)
	assert.Equal(t, "+PONG\r\n", string(readReply(t, conn, len("+PONG\r\n"))))
}

func TestEcho(t *testing.T) {
	conn := newTestHandler(t, Info{})
	_, err := conn.Write(protocol.EncodeArray([]string{"ECHO", "hello"}))
	require.NoError(t, err)
	assert.Equal(t, "+hello\r\n", string(readReply(t, conn, len("+hello\r\n"))))
}

func TestSetThenGet(t *testing.T) {
	conn := newTestHandler(t, Info{})

	_, err := conn.Write(protocol.EncodeArray([]string{"SET", "foo", "bar"}))
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", string(readReply(t, conn, len("+OK\r\n"))))

	_, err = conn.Write(protocol.EncodeArray([]string{"GET", "foo"}))
	require.NoError(t, err)
	assert.Equal(t, "$3\r\nbar\r\n", string(readReply(t, conn, len("$3\r\nbar\r\n"))))

	_, err = conn.Write(protocol.EncodeArray([]string{"GET", "missing"}))
	require.NoError(t, err)
	assert.Equal(t, "$-1\r\n", string(readReply(t, conn, len("$-1\r\n"))))
}

func TestSetWithTTLExpires(t *testing.T) {
	conn := newTestHandler(t, Info{})

	_, err := conn.Write(protocol.EncodeArray([]string{"SET", "x", "1", "PX", "80"}))
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", string(readReply(t, conn, len("+OK\r\n"))))

	_, err = conn.Write(protocol.EncodeArray([]string{"GET", "x"}))
	require.NoError(t, err)
	assert.Equal(t, "$1\r\n1\r\n", string(readReply(t, conn, len("$1\r\n1\r\n"))))

	time.Sleep(150 * time.Millisecond)

	_, err = conn.Write(protocol.EncodeArray([]string{"GET", "x"}))
	require.NoError(t, err)
	assert.Equal(t, "$-1\r\n", string(readReply(t, conn, len("$-1\r\n"))))
}

func TestInfoReplicationRoleMaster(t *testing.T) {
	conn := newTestHandler(t, Info{Role: "master"})

	_, err := conn.Write(protocol.EncodeArray([]string{"INFO", "replication"}))
	require.NoError(t, err)

	// Read the bulk header first to learn the payload length.
	header := make([]byte, 0, 16)
	buf := make([]byte, 1)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := conn.Read(buf)
		require.NoError(t, err)
		header = append(header, buf[0])
		if len(header) >= 2 && header[len(header)-2] == '\r' && header[len(header)-1] == '\n' {
			break
		}
	}
	assert.Equal(t, byte('$'), header[0])

	n, err := strconv.Atoi(string(header[1 : len(header)-2]))
	require.NoError(t, err)
	payload := readReply(t, conn, n+2)
	assert.Contains(t, string(payload), "role:master")
}

func TestConfigGet(t *testing.T) {
	conn := newTestHandler(t, Info{Dir: "/data", DBFilename: "dump.rdb"})

	_, err := conn.Write(protocol.EncodeArray([]string{"CONFIG", "GET", "dir"}))
	require.NoError(t, err)
	want := protocol.EncodeArray([]string{"dir", "/data"})
	assert.Equal(t, string(want), string(readReply(t, conn, len(want))))
}

func TestPSyncSendsFullResyncAndRDB(t *testing.T) {
	conn := newTestHandler(t, Info{})

	_, err := conn.Write(protocol.EncodeArray([]string{"PSYNC", "?", "-1"}))
	require.NoError(t, err)

	line := make([]byte, 0, 64)
	buf := make([]byte, 1)
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := conn.Read(buf)
		require.NoError(t, err)
		line = append(line, buf[0])
		if len(line) >= 2 && line[len(line)-2] == '\r' && line[len(line)-1] == '\n' {
			break
		}
	}
	assert.Contains(t, string(line), "FULLRESYNC")

	header := protocol.EncodeRDBHeader(len(replication.EmptyRDB))
	got := readReply(t, conn, len(header))
	assert.Equal(t, string(header), string(got))

	rdb := readReply(t, conn, len(replication.EmptyRDB))
	assert.Equal(t, replication.EmptyRDB, rdb)
}

func TestWaitZeroReturnsImmediately(t *testing.T) {
	conn := newTestHandler(t, Info{})

	_, err := conn.Write(protocol.EncodeArray([]string{"WAIT", "0", "100"}))
	require.NoError(t, err)
	assert.Equal(t, ":0\r\n", string(readReply(t, conn, len(":0\r\n"))))
}
