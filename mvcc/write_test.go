package mvcc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToBytesRoundTripNoShortValue(t *testing.T) {
	w := &Write{StartTS: 42, Kind: KindPut}
	parsed, err := ParseWrite(w.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, w.StartTS, parsed.StartTS)
	assert.Equal(t, w.Kind, parsed.Kind)
	assert.Nil(t, parsed.ShortValue)
}

func TestWriteToBytesRoundTripShortValue(t *testing.T) {
	w := &Write{StartTS: 7, Kind: KindPut, ShortValue: []byte("hello")}
	parsed, err := ParseWrite(w.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, w.ShortValue, parsed.ShortValue)
}

func TestParseWriteRejectsShortInput(t *testing.T) {
	_, err := ParseWrite([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestLockToBytesRoundTrip(t *testing.T) {
	l := &Lock{
		Primary:     []byte("k1"),
		StartTS:     10,
		ForUpdateTS: 12,
		TTLMillis:   3000,
		TxnSize:     2,
		Kind:        KindPut,
		Secondaries: [][]byte{[]byte("k2"), []byte("k3")},
		ShortValue:  []byte("v"),
	}
	parsed, err := ParseLock(l.ToBytes())
	require.NoError(t, err)
	assert.Equal(t, l, parsed)
}

func TestParseLockNilIsNil(t *testing.T) {
	parsed, err := ParseLock(nil)
	require.NoError(t, err)
	assert.Nil(t, parsed)
}
