package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/xxh3"
)

// --------------------------------------------------------------------------
// Record Format
// --------------------------------------------------------------------------

/*
	Every stored entry is one record:

		+--------+-------+-----------------+------------------+-----------+
		| format | flags | version uvarint | xxh3(payload) 8B | payload   |
		+--------+-------+-----------------+------------------+-----------+

	flags holds the tombstone bit and the compression type of the payload.
	The payload is the msgpack encoding of the value's plain sentinel form.
	Tombstones have an empty payload but keep the version.
*/

const (
	recordFormatV1 byte = 1

	flagTombstone   byte = 0x80
	compressionMask byte = 0x0F
)

// Compression selects the algorithm used for record payloads.
type Compression byte

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// ParseCompression parses a compression name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return CompressionNone, fmt.Errorf("unknown compression %q", name)
}

// Record is the decoded form of a stored entry.
type Record struct {
	Version   uint64
	Tombstone bool
	Value     any
}

// EncodeRecord serializes r, compressing the payload with c.
func EncodeRecord(r Record, c Compression) ([]byte, error) {
	var payload []byte
	if !r.Tombstone {
		raw, err := marshalValue(r.Value)
		if err != nil {
			return nil, err
		}
		if payload, err = compress(c, raw); err != nil {
			return nil, err
		}
	} else {
		c = CompressionNone
	}

	flags := byte(c) & compressionMask
	if r.Tombstone {
		flags |= flagTombstone
	}

	buf := make([]byte, 0, 2+binary.MaxVarintLen64+8+len(payload))
	buf = append(buf, recordFormatV1, flags)
	buf = binary.AppendUvarint(buf, r.Version)
	buf = binary.BigEndian.AppendUint64(buf, xxh3.Hash(payload))
	return append(buf, payload...), nil
}

// DecodeRecord parses a stored record and verifies its checksum.
func DecodeRecord(b []byte) (Record, error) {
	if len(b) < 2 {
		return Record{}, fmt.Errorf("record too short (%d bytes)", len(b))
	}
	if b[0] != recordFormatV1 {
		return Record{}, fmt.Errorf("unknown record format %d", b[0])
	}
	flags := b[1]

	version, n := binary.Uvarint(b[2:])
	if n <= 0 {
		return Record{}, fmt.Errorf("corrupt record version")
	}
	rest := b[2+n:]
	if len(rest) < 8 {
		return Record{}, fmt.Errorf("record checksum missing")
	}
	sum, payload := binary.BigEndian.Uint64(rest[:8]), rest[8:]
	if xxh3.Hash(payload) != sum {
		return Record{}, fmt.Errorf("record checksum mismatch")
	}

	r := Record{Version: version, Tombstone: flags&flagTombstone != 0}
	if r.Tombstone {
		return r, nil
	}

	raw, err := decompress(Compression(flags&compressionMask), payload)
	if err != nil {
		return Record{}, err
	}
	if r.Value, err = unmarshalValue(raw); err != nil {
		return Record{}, err
	}
	return r, nil
}

// --------------------------------------------------------------------------
// Payload Helper Functions
// --------------------------------------------------------------------------

func marshalValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err := enc.Encode(codec.ToPlain(v, false))
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return buf.Bytes(), nil
}

func unmarshalValue(b []byte) (any, error) {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(b))
	plain, err := dec.DecodeInterface()
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to decode msgpack payload: %w", err)
	}
	return codec.FromPlain(plain), nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodec returns the shared zstd encoder and decoder. Both are safe for
// concurrent use through EncodeAll and DecodeAll.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		if zstdEncoder, zstdErr = zstd.NewWriter(nil); zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionZstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, fmt.Errorf("lz4 apply level: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unsupported compression type: %s", c)
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionZstd:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	}
	return nil, fmt.Errorf("unsupported compression type: %s", c)
}
