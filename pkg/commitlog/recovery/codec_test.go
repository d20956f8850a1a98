package recovery

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"gotest.tools/v3/assert"
)

func sampleRecord() *Record {
	return &Record{
		Version:      CurrentVersion,
		BeginAddress: 64,
		UntilAddress: 4096,
		CommitNum:    7,
		Iterators: map[string]int64{
			"replicator": 1024,
			"indexer":    4096,
			"":           64,
		},
		Cookie: []byte("checkpoint-42"),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	tests := []*Record{
		sampleRecord(),
		{Version: CurrentVersion, CommitNum: 1},
		{Version: CurrentVersion, BeginAddress: 10, UntilAddress: 10, CommitNum: 3},
		{Version: CurrentVersion, UntilAddress: 1 << 40, CommitNum: 1 << 33, Cookie: []byte{0}},
		{Version: CurrentVersion, UntilAddress: 300, CommitNum: 2, Iterators: map[string]int64{"ünïcode-名前": 299}},
	}
	for i, want := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			b, err := want.Encode()
			assert.NilError(t, err)
			assert.Equal(t, len(b), want.SerializedSize())

			got, err := Decode(b)
			assert.NilError(t, err)
			if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}

			again, err := got.Encode()
			assert.NilError(t, err)
			assert.Assert(t, bytes.Equal(b, again), "re-encoding changed the bytes")
		})
	}
}

func TestRecordRoundTripRandom(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		until := rnd.Int63n(1 << 50)
		rec := &Record{
			Version:      CurrentVersion,
			BeginAddress: rnd.Int63n(until + 1),
			UntilAddress: until,
			CommitNum:    rnd.Int63(),
		}
		if n := rnd.Intn(5); n > 0 {
			rec.Iterators = make(map[string]int64)
			for j := 0; j < n; j++ {
				rec.Iterators[fmt.Sprintf("it-%d-%d", i, j)] = rnd.Int63n(until + 1)
			}
		}
		if rnd.Intn(2) == 0 {
			rec.Cookie = make([]byte, 1+rnd.Intn(64))
			rnd.Read(rec.Cookie)
		}

		b, err := rec.Encode()
		assert.NilError(t, err)
		assert.Equal(t, int64(binary.LittleEndian.Uint64(b[4:12])), rec.BeginAddress^rec.UntilAddress)

		got, err := Decode(b)
		assert.NilError(t, err)
		assert.Assert(t, cmp.Equal(rec, got, cmpopts.EquateEmpty()), cmp.Diff(rec, got, cmpopts.EquateEmpty()))
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	rec := sampleRecord()
	first, err := rec.Encode()
	assert.NilError(t, err)
	for i := 0; i < 20; i++ {
		b, err := rec.Encode()
		assert.NilError(t, err)
		assert.Assert(t, bytes.Equal(first, b))
	}
}

func TestEncodeRejectsInvalidRecord(t *testing.T) {
	_, err := (&Record{BeginAddress: 10, UntilAddress: 5}).Encode()
	assert.ErrorIs(t, err, ErrInvalidRecord)

	_, err = (&Record{UntilAddress: 5, Iterators: map[string]int64{"a": 6}}).Encode()
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestDecodeSingleByteCorruption(t *testing.T) {
	b, err := sampleRecord().Encode()
	assert.NilError(t, err)

	// checksum, begin and until bytes
	for i := 4; i < headerSize; i++ {
		damaged := append([]byte{}, b...)
		damaged[i] ^= 0xff
		_, err := Decode(damaged)
		assert.ErrorIs(t, err, ErrCorruptMetadata, "byte %d", i)
	}

	// version bytes never decode silently
	for i := 0; i < 4; i++ {
		damaged := append([]byte{}, b...)
		damaged[i] ^= 0xff
		_, err := Decode(damaged)
		assert.Assert(t, err != nil, "byte %d", i)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b, err := sampleRecord().Encode()
	assert.NilError(t, err)

	for _, n := range []int{0, 3, 4, 11, headerSize - 1, headerSize, headerSize + 7} {
		_, err := Decode(b[:n])
		assert.ErrorIs(t, err, ErrCorruptMetadata, "truncated to %d", n)
	}

	// cut inside the first iterator entry
	_, err = Decode(b[:headerSize+8+4+3])
	assert.ErrorIs(t, err, ErrCorruptMetadata)

	// cut inside the cookie
	_, err = Decode(b[:len(b)-1])
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestDecodeLenientTrailingFields(t *testing.T) {
	rec := &Record{Version: CurrentVersion, BeginAddress: 8, UntilAddress: 512, CommitNum: 9}
	b, err := rec.Encode()
	assert.NilError(t, err)

	// stream ends where the iterator count would start
	got, err := Decode(b[:headerSize+8])
	assert.NilError(t, err)
	assert.Equal(t, got.CommitNum, int64(9))
	assert.Assert(t, got.Iterators == nil)
	assert.Assert(t, got.Cookie == nil)

	// stream ends where the cookie length would start
	got, err = Decode(b[:headerSize+8+4])
	assert.NilError(t, err)
	assert.Assert(t, got.Cookie == nil)

	// partial cookie length
	got, err = Decode(b[:headerSize+8+4+2])
	assert.NilError(t, err)
	assert.Assert(t, got.Cookie == nil)
}

func legacyRecord(begin, until int64, iters map[string]int64, names ...string) []byte {
	var b []byte
	b = binary.LittleEndian.AppendUint32(b, uint32(VersionLegacy))
	b = binary.LittleEndian.AppendUint64(b, uint64(begin^until))
	b = binary.LittleEndian.AppendUint64(b, uint64(begin))
	b = binary.LittleEndian.AppendUint64(b, uint64(until))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(names)))
	for _, name := range names {
		b = binary.AppendUvarint(b, uint64(len(name)))
		b = append(b, name...)
		b = binary.LittleEndian.AppendUint64(b, uint64(iters[name]))
	}
	return b
}

func TestDecodeLegacyVersion(t *testing.T) {
	got, err := Decode(legacyRecord(100, 2000, nil))
	assert.NilError(t, err)
	assert.Equal(t, got.Version, VersionLegacy)
	assert.Equal(t, got.CommitNum, int64(-1))
	assert.Equal(t, got.BeginAddress, int64(100))
	assert.Equal(t, got.UntilAddress, int64(2000))
	assert.Assert(t, got.Cookie == nil)
	assert.Assert(t, got.Iterators == nil)

	iters := map[string]int64{"a": 150, "b": 1999}
	got, err = Decode(legacyRecord(100, 2000, iters, "a", "b"))
	assert.NilError(t, err)
	assert.DeepEqual(t, got.Iterators, iters)
	assert.Assert(t, got.Cookie == nil)

	// legacy writers may stop right after the addresses
	got, err = Decode(legacyRecord(0, 64, nil)[:headerSize])
	assert.NilError(t, err)
	assert.Equal(t, got.CommitNum, int64(-1))
}

func TestDecodeLegacyChecksum(t *testing.T) {
	b := legacyRecord(100, 2000, nil)
	b[5] ^= 0x01
	_, err := Decode(b)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	b, err := sampleRecord().Encode()
	assert.NilError(t, err)
	binary.LittleEndian.PutUint32(b, uint32(CurrentVersion+1))

	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsBeginAboveUntil(t *testing.T) {
	b := legacyRecord(4096, 1024, nil)
	_, err := Decode(b)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestDecodeRejectsNegativeCounts(t *testing.T) {
	rec := &Record{Version: CurrentVersion, UntilAddress: 10, CommitNum: 1}
	b, err := rec.Encode()
	assert.NilError(t, err)
	binary.LittleEndian.PutUint32(b[headerSize+8:], uint32(0xffffffff))

	_, err = Decode(b)
	assert.ErrorIs(t, err, ErrCorruptMetadata)
}

func TestDecodeFromStream(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	assert.NilError(t, rec.EncodeTo(&buf))

	got, err := DecodeFrom(io.MultiReader(&buf))
	assert.NilError(t, err)
	assert.Assert(t, cmp.Equal(rec, got, cmpopts.EquateEmpty()))
}

func TestEmptyCookieReadsAsAbsent(t *testing.T) {
	rec := &Record{Version: CurrentVersion, UntilAddress: 10, CommitNum: 1, Cookie: []byte{}}
	b, err := rec.Encode()
	assert.NilError(t, err)

	got, err := Decode(b)
	assert.NilError(t, err)
	assert.Assert(t, got.Cookie == nil)
}
