package keycodec

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Key{
		MetaKey(),
		InodeKey(1),
		InodeKey(1<<63 + 7),
		BlockKey(42, 0),
		BlockKey(42, 9999),
		HandleKey(42, 3),
		IndexKey(1, "hello.txt"),
		IndexKey(1, ""),
	}

	for _, k := range cases {
		raw := Encode(k)
		got, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, k, got, "round trip for scope %s", k.Scope)
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"meta with body", []byte{byte(ScopeMeta), 1}},
		{"inode short", []byte{byte(ScopeInode), 1, 2, 3}},
		{"block short", append([]byte{byte(ScopeBlock)}, make([]byte, 10)...)},
		{"handle short", append([]byte{byte(ScopeHandle)}, make([]byte, 4)...)},
		{"index no parent", []byte{byte(ScopeIndex), 1, 2}},
		{"unknown scope", []byte{0x7F, 1, 2, 3}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Decode(c.raw)
			require.Error(t, err)
			var malformed *MalformedKeyError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestInodeKeyOrderingMatchesNumericOrder(t *testing.T) {
	inodes := []uint64{0, 1, 2, 255, 256, 65535, 65536, 1 << 40}
	encoded := make([][]byte, len(inodes))
	for i, ino := range inodes {
		encoded[i] = Encode(InodeKey(ino))
	}

	sorted := make([][]byte, len(encoded))
	copy(sorted, encoded)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })

	assert.Equal(t, encoded, sorted, "byte order of encoded inode keys must match numeric order")
}

func TestBlockKeyOrderingWithinInode(t *testing.T) {
	a := Encode(BlockKey(7, 0))
	b := Encode(BlockKey(7, 1))
	c := Encode(BlockKey(8, 0))

	assert.Equal(t, -1, bytes.Compare(a, b))
	assert.Equal(t, -1, bytes.Compare(b, c))
}

func TestIndexPrefixBoundsCoverOnlyOwnParent(t *testing.T) {
	start := IndexPrefix(10)
	end := IndexPrefixEnd(10)

	inOwn := Encode(IndexKey(10, "file.txt"))
	inOther := Encode(IndexKey(11, "file.txt"))

	assert.True(t, bytes.Compare(start, inOwn) <= 0 && bytes.Compare(inOwn, end) < 0)
	assert.False(t, bytes.Compare(start, inOther) <= 0 && bytes.Compare(inOther, end) < 0)
}

func TestBlockRangeBounds(t *testing.T) {
	start, end := BlockRange(5, 2, 4)
	assert.Equal(t, Encode(BlockKey(5, 2)), start)
	assert.Equal(t, Encode(BlockKey(5, 5)), end)

	inRange := Encode(BlockKey(5, 3))
	outRange := Encode(BlockKey(5, 5))
	assert.True(t, bytes.Compare(start, inRange) <= 0 && bytes.Compare(inRange, end) < 0)
	assert.False(t, bytes.Compare(start, outRange) <= 0 && bytes.Compare(outRange, end) < 0)
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("ok.txt"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("a/b"))
	assert.Error(t, ValidateName("a\x00b"))

	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateName(string(long)))
}

func TestHandlePrefixBounds(t *testing.T) {
	start := HandlePrefix(3)
	end := HandlePrefixEnd(3)
	inOwn := Encode(HandleKey(3, 99))
	inOther := Encode(HandleKey(4, 0))

	assert.True(t, bytes.Compare(start, inOwn) <= 0 && bytes.Compare(inOwn, end) < 0)
	assert.False(t, bytes.Compare(start, inOther) <= 0 && bytes.Compare(inOther, end) < 0)
}

func TestScopePrefixBoundsCoverWholeScope(t *testing.T) {
	start := ScopePrefix(ScopeInode)
	end := ScopePrefixEnd(ScopeInode)

	inScope := Encode(InodeKey(1 << 40))
	outScope := Encode(BlockKey(1, 0))

	assert.True(t, bytes.Compare(start, inScope) <= 0 && bytes.Compare(inScope, end) < 0)
	assert.False(t, bytes.Compare(start, outScope) <= 0 && bytes.Compare(outScope, end) < 0)
}
