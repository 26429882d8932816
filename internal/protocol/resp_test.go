package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Value{
		{Kind: SimpleString, Str: "OK"},
		{Kind: Error, Str: "ERR bad thing"},
		{Kind: Integer, Int: 12345},
		{Kind: Integer, Int: -9},
		{Kind: BulkString, Bulk: []byte("hello world")},
		{Kind: BulkString, Bulk: []byte{}},
		{Kind: BulkNull},
		{Kind: Array, Items: []Value{
			{Kind: BulkString, Bulk: []byte("SET")},
			{Kind: BulkString, Bulk: []byte("k")},
			{Kind: BulkString, Bulk: []byte("v")},
		}},
		{Kind: Array, Items: []Value{}},
	}

	for _, v := range cases {
		encoded := Encode(v)
		got, rest, err := Parse(encoded)
		require.NoError(t, err)
		assert.Empty(t, rest)
		assert.Equal(t, v, got)
	}
}

func TestPartialFrameReportsIncomplete(t *testing.T) {
	v := Value{Kind: Array, Items: []Value{
		{Kind: BulkString, Bulk: []byte("SET")},
		{Kind: BulkString, Bulk: []byte("foo")},
		{Kind: BulkString, Bulk: []byte("bar")},
	}}
	encoded := Encode(v)

	for k := 0; k < len(encoded); k++ {
		_, _, err := Parse(encoded[:k])
		assert.ErrorIs(t, err, ErrIncomplete, "prefix of length %d should be incomplete", k)
	}

	_, _, err := Parse(encoded)
	assert.NoError(t, err)
}

func TestParseArraySeesSuccessiveFrames(t *testing.T) {
	first := EncodeArray([]string{"PING"})
	second := EncodeArray([]string{"ECHO", "hi"})
	buf := append(append([]byte{}, first...), second...)

	v1, rest, err := Parse(buf)
	require.NoError(t, err)
	assert.Equal(t, "PING", string(v1.Items[0].Bulk))

	v2, rest, err := Parse(rest)
	require.NoError(t, err)
	assert.Equal(t, "ECHO", string(v2.Items[0].Bulk))
	assert.Empty(t, rest)
}

func TestMalformedLengthIsFatal(t *testing.T) {
	_, _, err := Parse([]byte("$notanumber\r\nxx\r\n"))
	var malformed *ErrMalformed
	assert.ErrorAs(t, err, &malformed)
}

func TestParseRDBHeaderHasNoTrailingCRLF(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	header := EncodeRDBHeader(len(payload))
	buf := append(append([]byte{}, header...), payload...)

	length, rest, err := ParseRDBHeader(buf)
	require.NoError(t, err)
	require.Equal(t, len(payload), length)
	assert.Equal(t, payload, rest[:length])
}

func TestFromValueClassifiesCommands(t *testing.T) {
	v, _, err := Parse(EncodeArray([]string{"SET", "k", "v", "PX", "100"}))
	require.NoError(t, err)

	cmd, err := FromValue(v)
	require.NoError(t, err)

	set, ok := cmd.(SetCommand)
	require.True(t, ok)
	assert.Equal(t, "k", set.Key)
	assert.Equal(t, []byte("v"), set.Value)
	require.NotNil(t, set.PX)
	assert.Equal(t, int64(100), *set.PX)
}

func TestFromValueIsCaseInsensitive(t *testing.T) {
	v, _, err := Parse(EncodeArray([]string{"ping"}))
	require.NoError(t, err)

	cmd, err := FromValue(v)
	require.NoError(t, err)
	assert.IsType(t, PingCommand{}, cmd)
}

func TestFromValueRejectsUnknownCommand(t *testing.T) {
	v, _, err := Parse(EncodeArray([]string{"FLUSHALL"}))
	require.NoError(t, err)

	_, err = FromValue(v)
	var unknown *ErrUnknownCommand
	assert.ErrorAs(t, err, &unknown)
}
