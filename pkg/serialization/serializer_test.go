package serialization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	RunID   string         `json:"run_id" msgpack:"run_id"`
	Version int            `json:"version" msgpack:"version"`
	Outputs map[string]int `json:"outputs" msgpack:"outputs"`
}

func sampleRecord() record {
	return record{
		RunID:   "r1",
		Version: 12,
		Outputs: map[string]int{"intake": 1, "codegen": 3},
	}
}

func TestSerializer_DefaultRoundtrip(t *testing.T) {
	s := DefaultSerializer()

	data, err := s.Marshal(sampleRecord())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	var out record
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, sampleRecord(), out)
}

func TestSerializer_CodecAndCompressionVariants(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"msgpack no compression", Options{Codec: NewMsgPackCodec(), Compression: CompressionNone}},
		{"msgpack zstd", Options{Codec: NewMsgPackCodec(), Compression: CompressionZstd}},
		{"json gzip", Options{Codec: NewJSONCodec(), Compression: CompressionGzip}},
		{"json zstd", Options{Codec: NewJSONCodec(), Compression: CompressionZstd}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSerializer(tt.opts)

			data, err := s.Marshal(sampleRecord())
			require.NoError(t, err)

			var out record
			require.NoError(t, s.Unmarshal(data, &out))
			assert.Equal(t, sampleRecord(), out)
		})
	}
}

func TestSerializer_Encryption(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s := NewSerializer(Options{
		Codec:       NewMsgPackCodec(),
		Compression: CompressionZstd,
		EncryptKey:  key,
	})

	data, err := s.Marshal(sampleRecord())
	require.NoError(t, err)

	t.Run("roundtrip", func(t *testing.T) {
		var out record
		require.NoError(t, s.Unmarshal(data, &out))
		assert.Equal(t, sampleRecord(), out)
	})

	t.Run("tampered ciphertext is rejected", func(t *testing.T) {
		tampered := append([]byte(nil), data...)
		tampered[len(tampered)-1] ^= 0xff

		var out record
		err := s.Unmarshal(tampered, &out)
		assert.Error(t, err)
	})

	t.Run("wrong key is rejected", func(t *testing.T) {
		other := NewSerializer(Options{
			Codec:       NewMsgPackCodec(),
			Compression: CompressionZstd,
			EncryptKey:  make([]byte, 32),
		})
		var out record
		assert.Error(t, other.Unmarshal(data, &out))
	})

	t.Run("truncated ciphertext is rejected", func(t *testing.T) {
		var out record
		assert.Error(t, s.Unmarshal(data[:4], &out))
	})
}

func TestSerializer_NilCodecDefaultsToMsgPack(t *testing.T) {
	s := NewSerializer(Options{})

	data, err := s.Marshal(sampleRecord())
	require.NoError(t, err)

	var out record
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, sampleRecord(), out)
}

func TestCodec_Names(t *testing.T) {
	assert.Equal(t, "json", NewJSONCodec().Name())
	assert.Equal(t, "msgpack", NewMsgPackCodec().Name())
}

func TestSerializer_GarbageInput(t *testing.T) {
	s := DefaultSerializer()
	var out record
	assert.Error(t, s.Unmarshal([]byte("not zstd at all"), &out))
}
