package models

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tsvMessage(kind string, rows ...[]string) []byte {
	var sb strings.Builder
	sb.WriteString("V: 1.7\n")
	sb.WriteString("C_HASH_ID: 0c2d1bff-51e6-4a4a-9d9f-a2e283b7a969\n")
	sb.WriteString("T: " + kind + "\n")
	sb.WriteString("L: 0\n")
	sb.WriteString("R: " + strconv.Itoa(len(rows)) + "\n\n")
	for _, row := range rows {
		sb.WriteString(strings.Join(row, "\t"))
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func TestParseMessageHeaders(t *testing.T) {
	raw := tsvMessage("router", []string{"init", "1", "rtr1", "hash-r1", "10.0.0.1"})

	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, "1.7", msg.Version)
	assert.Equal(t, "0c2d1bff-51e6-4a4a-9d9f-a2e283b7a969", msg.CollectorHash)
	assert.Equal(t, "router", msg.Type)
	assert.Equal(t, 1, msg.RowCount)
	require.Len(t, msg.Rows, 1)
	assert.Equal(t, "rtr1", msg.Rows[0][2])
}

func TestParseMessageMissingTerminator(t *testing.T) {
	_, err := ParseMessage([]byte("V: 1.7\nT: router\n"))
	require.Error(t, err)
}

func TestParseMessageRowCountMismatch(t *testing.T) {
	raw := []byte("T: peer\nR: 2\n\nonly\tone\trow\n")
	_, err := ParseMessage(raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row count mismatch")
}

func TestParseMessageEmptyContent(t *testing.T) {
	msg, err := ParseMessage([]byte("T: collector\nR: 0\n\n"))
	require.NoError(t, err)
	assert.Empty(t, msg.Rows)
}

func TestDecodeUnicastPrefixes(t *testing.T) {
	row := make([]string, 31)
	row[0] = "add"
	row[1] = "42"
	row[2] = "hash-x"
	row[3] = "hash-router"
	row[5] = "hash-attr"
	row[6] = "hash-peer"
	row[7] = "10.1.1.1"
	row[8] = "64512"
	row[9] = "2026-08-06 10:00:00"
	row[10] = "10.0.0.0"
	row[11] = "24"
	row[12] = "1"
	row[14] = "64512 15169"
	row[16] = "64500"
	row[30] = "1"

	msg, err := ParseMessage(tsvMessage("unicast_prefix", row))
	require.NoError(t, err)

	recs := DecodeUnicastPrefixes(msg)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.Equal(t, "hash-x", rec.Hash)
	assert.Equal(t, "hash-peer", rec.PeerHash)
	assert.Equal(t, "hash-attr", rec.BaseAttrHash)
	assert.Equal(t, "10.0.0.0", rec.Prefix)
	assert.Equal(t, uint32(24), rec.PrefixLen)
	assert.True(t, rec.IsIPv4)
	assert.Equal(t, "64512 15169", rec.ASPath)
	assert.Equal(t, uint32(64500), rec.OriginAS)
	assert.False(t, rec.IsWithdrawn)
	assert.True(t, rec.IsAdjRIBIn)
}

func TestDecodeUnicastWithdraw(t *testing.T) {
	row := make([]string, 31)
	row[0] = "del"
	row[2] = "hash-x"
	row[6] = "hash-peer"

	msg, err := ParseMessage(tsvMessage("unicast_prefix", row))
	require.NoError(t, err)

	recs := DecodeUnicastPrefixes(msg)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsWithdrawn)
}

func TestDecodePeersShortRowDropped(t *testing.T) {
	short := []string{"up", "7", "hash-p"}
	full := make([]string, 14)
	full[0] = "up"
	full[2] = "hash-p2"
	full[3] = "hash-r"

	msg, err := ParseMessage(tsvMessage("peer", short, full))
	require.NoError(t, err)

	// The short row is dropped; the well-formed one survives.
	recs := DecodePeers(msg)
	require.Len(t, recs, 1)
	assert.Equal(t, "hash-p2", recs[0].Hash)
}

func TestDecodeUnicastUnparseableNumericDropped(t *testing.T) {
	row := make([]string, 31)
	row[0] = "add"
	row[2] = "hash-x"
	row[6] = "hash-peer"
	row[16] = "not-a-number" // origin_as

	msg, err := ParseMessage(tsvMessage("unicast_prefix", row))
	require.NoError(t, err)

	assert.Empty(t, DecodeUnicastPrefixes(msg))
}

func TestDecodeRoutersMissingHashDropped(t *testing.T) {
	row := make([]string, 9)
	row[0] = "init"
	row[2] = "rtr1" // hash field left empty

	msg, err := ParseMessage(tsvMessage("router", row))
	require.NoError(t, err)

	assert.Empty(t, DecodeRouters(msg))
}

func TestDecodeSubscription(t *testing.T) {
	rec, err := DecodeSubscription([]byte(`{"action":"subscribe","resource":"AS15169"}`))
	require.NoError(t, err)
	assert.Equal(t, "subscribe", rec.Action)
	assert.Equal(t, "AS15169", rec.Resource)

	_, err = DecodeSubscription([]byte("not json"))
	require.Error(t, err)
}
