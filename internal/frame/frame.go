// Package frame holds the sample/frame data model and the binary codec
// for the wire format published to the broker.
//
// A frame is one broker message carrying a contiguous batch of samples:
//
//	offset  size  field
//	0       4     payload length (bytes after this field), big-endian
//	4       4     CRC-32C of bytes after this field
//	8       8     session id
//	16      8     first sequence number
//	24      2     sample count
//	26      2     channel count
//	28      4     reserved (zero)
//	32      …     per sample: timestamp (int64, µs) then one float64
//	              per channel, sample-major
//
// Consumers decode by reversing this layout exactly; Decode below is
// the reference inverse.
package frame

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

const (
	headerSize    = 32
	sampleFixed   = 8 // timestamp bytes per sample
	MaxBatchSize  = math.MaxUint16
	MaxChannelCnt = math.MaxUint16
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Sample is one multi-channel reading after the streaming loop has
// assigned its sequence number. Timestamps are monotonic microseconds.
type Sample struct {
	Seq             uint64
	TimestampMicros int64
	Values          []float64
}

// Frame is the encoded unit handed to the publisher. Key is the broker
// partition key; Payload is the byte layout documented above.
type Frame struct {
	Key      []byte
	Payload  []byte
	FirstSeq uint64
	Samples  int
}

// EncodingError marks a programming or data-integrity fault in a batch
// handed to Encode, or a malformed payload handed to Decode. It is
// fatal for the session.
type EncodingError struct {
	Reason string
}

func (e *EncodingError) Error() string {
	return "frame encoding: " + e.Reason
}

func encodingErrf(format string, args ...any) *EncodingError {
	return &EncodingError{Reason: fmt.Sprintf(format, args...)}
}

// Encode serializes a contiguous, non-empty batch. Pure function, no
// I/O. The batch must be strictly seq-contiguous and every sample must
// carry exactly channels values.
func Encode(sessionID uint64, channels int, batch []Sample) ([]byte, error) {
	if len(batch) == 0 {
		return nil, encodingErrf("empty batch")
	}
	if len(batch) > MaxBatchSize {
		return nil, encodingErrf("batch of %d exceeds %d samples", len(batch), MaxBatchSize)
	}
	if channels <= 0 || channels > MaxChannelCnt {
		return nil, encodingErrf("invalid channel count %d", channels)
	}

	first := batch[0].Seq
	for i, s := range batch {
		if s.Seq != first+uint64(i) {
			return nil, encodingErrf("non-contiguous sequence: sample %d has seq %d, want %d", i, s.Seq, first+uint64(i))
		}
		if len(s.Values) != channels {
			return nil, encodingErrf("sample seq %d has %d channels, session has %d", s.Seq, len(s.Values), channels)
		}
	}

	sampleSize := sampleFixed + 8*channels
	buf := make([]byte, headerSize+sampleSize*len(batch))

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)-4))
	binary.BigEndian.PutUint64(buf[8:16], sessionID)
	binary.BigEndian.PutUint64(buf[16:24], first)
	binary.BigEndian.PutUint16(buf[24:26], uint16(len(batch)))
	binary.BigEndian.PutUint16(buf[26:28], uint16(channels))

	off := headerSize
	for _, s := range batch {
		binary.BigEndian.PutUint64(buf[off:], uint64(s.TimestampMicros))
		off += sampleFixed
		for _, v := range s.Values {
			binary.BigEndian.PutUint64(buf[off:], math.Float64bits(v))
			off += 8
		}
	}

	binary.BigEndian.PutUint32(buf[4:8], crc32.Checksum(buf[8:], castagnoli))
	return buf, nil
}

// Decode is the exact inverse of Encode. It returns the session id and
// the original batch, and fails with EncodingError on any length,
// checksum, or structure mismatch.
func Decode(payload []byte) (sessionID uint64, batch []Sample, err error) {
	if len(payload) < headerSize {
		return 0, nil, encodingErrf("payload of %d bytes shorter than header", len(payload))
	}
	if n := binary.BigEndian.Uint32(payload[0:4]); int(n) != len(payload)-4 {
		return 0, nil, encodingErrf("length field %d, have %d bytes after it", n, len(payload)-4)
	}
	if sum := binary.BigEndian.Uint32(payload[4:8]); sum != crc32.Checksum(payload[8:], castagnoli) {
		return 0, nil, encodingErrf("checksum mismatch")
	}

	sessionID = binary.BigEndian.Uint64(payload[8:16])
	first := binary.BigEndian.Uint64(payload[16:24])
	count := int(binary.BigEndian.Uint16(payload[24:26]))
	channels := int(binary.BigEndian.Uint16(payload[26:28]))

	sampleSize := sampleFixed + 8*channels
	if want := headerSize + sampleSize*count; want != len(payload) {
		return 0, nil, encodingErrf("header claims %d bytes, payload has %d", want, len(payload))
	}

	batch = make([]Sample, count)
	off := headerSize
	for i := range batch {
		ts := int64(binary.BigEndian.Uint64(payload[off:]))
		off += sampleFixed
		vals := make([]float64, channels)
		for c := range vals {
			vals[c] = math.Float64frombits(binary.BigEndian.Uint64(payload[off:]))
			off += 8
		}
		batch[i] = Sample{
			Seq:             first + uint64(i),
			TimestampMicros: ts,
			Values:          vals,
		}
	}
	return sessionID, batch, nil
}
