package index

import (
	"encoding/binary"
	"errors"
	"math"
)

// errCorruptVectorValue mirrors codec.ErrCorruptedInternalKey for the
// index package's own on-disk value format, kept separate to avoid an
// import cycle back into codec.
var errCorruptVectorValue = errors.New("index: corrupted vector value")

// VectorKeyID decodes a region key into the vector id it addresses.
// A vector-index region's keys are exactly an 8-byte big-endian id with
// no further prefix, the scheme original_source/src/server/index_service.cc's
// VectorCodec builds around (ValidateIndexRegion checks a raw vector_id
// against the region's key range directly). ok is false for a key of any
// other length, which on_commit treats as "not a vector key" rather than
// an error, since a region can carry both a vector index and other keys.
func VectorKeyID(key []byte) (id uint64, ok bool) {
	if len(key) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key), true
}

// EncodeVectorKey is VectorKeyID's inverse, used by callers constructing
// a vector region key from an id.
func EncodeVectorKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

// EncodeVectorValue serializes a float32 vector as a flat little-endian
// byte string, the same fixed-width numeric encoding
// other_examples/Scarage1-FlashDB__engine.go uses for its float64 score
// values (PutUint64/Float64bits), narrowed to 4-byte floats here since
// vector components are float32 throughout this package.
func EncodeVectorValue(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

// DecodeVectorValue is EncodeVectorValue's inverse.
func DecodeVectorValue(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errCorruptVectorValue
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
