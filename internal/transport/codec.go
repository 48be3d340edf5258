package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Frame layout, all integers big endian:
//
//	uint32 header length
//	uint32 payload length
//	uint8  flags
//	header (JSON {"id","kind","body"})
//	payload
const (
	prefixSize     = 9
	flagCompressed = 1 << 0

	maxHeaderSize  = 1 << 20
	maxPayloadSize = 1 << 30
)

type frameHeader struct {
	ID   uint64          `json:"id"`
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Codec reads and writes frames. Payloads longer than CompressThreshold
// bytes are zstd compressed; zero disables compression.
type Codec struct {
	CompressThreshold int
}

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithLowerEncoderMem(true),
		)
		if err != nil {
			panic(err)
		}
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderLowmem(true),
			zstd.WithDecoderMaxMemory(maxPayloadSize),
		)
		if err != nil {
			panic(err)
		}
		return dec
	},
}

func compress(data []byte) []byte {
	enc := zstdEncPool.Get().(*zstd.Encoder)
	out := enc.EncodeAll(data, nil)
	zstdEncPool.Put(enc)
	return out
}

func decompress(data []byte) ([]byte, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	out, err := dec.DecodeAll(data, nil)
	zstdDecPool.Put(dec)
	return out, err
}

// WriteFrame encodes env to w.
func (c Codec) WriteFrame(w io.Writer, env Envelope) error {
	var payload []byte
	if p, ok := env.Body.(payloadBody); ok {
		payload = p.payload()
	}
	body, err := json.Marshal(env.Body)
	if err != nil {
		return fmt.Errorf("failed to encode %s body: %w", env.Body.Kind(), err)
	}
	header, err := json.Marshal(frameHeader{ID: env.ID, Kind: env.Body.Kind(), Body: body})
	if err != nil {
		return fmt.Errorf("failed to encode frame header: %w", err)
	}

	var flags byte
	if c.CompressThreshold > 0 && len(payload) > c.CompressThreshold {
		payload = compress(payload)
		flags |= flagCompressed
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("payload of %d bytes exceeds frame limit", len(payload))
	}

	var prefix [prefixSize]byte
	binary.BigEndian.PutUint32(prefix[0:4], uint32(len(header)))
	binary.BigEndian.PutUint32(prefix[4:8], uint32(len(payload)))
	prefix[8] = flags

	for _, part := range [][]byte{prefix[:], header, payload} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame decodes one frame from r. It returns io.EOF when r ends
// cleanly between frames.
func (c Codec) ReadFrame(r io.Reader) (Envelope, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Envelope{}, err
	}
	headerLen := binary.BigEndian.Uint32(prefix[0:4])
	payloadLen := binary.BigEndian.Uint32(prefix[4:8])
	flags := prefix[8]
	if headerLen > maxHeaderSize || payloadLen > maxPayloadSize {
		return Envelope{}, fmt.Errorf("frame too large: header %d, payload %d bytes", headerLen, payloadLen)
	}

	buf := make([]byte, int(headerLen)+int(payloadLen))
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, fmt.Errorf("truncated frame: %w", err)
	}
	header, payload := buf[:headerLen], buf[headerLen:]

	if flags&flagCompressed != 0 {
		var err error
		if payload, err = decompress(payload); err != nil {
			return Envelope{}, fmt.Errorf("failed to decompress payload: %w", err)
		}
	}

	var h frameHeader
	if err := json.Unmarshal(header, &h); err != nil {
		return Envelope{}, fmt.Errorf("failed to parse frame header: %w", err)
	}
	body, ok := newBody(h.Kind)
	if !ok {
		return Envelope{}, fmt.Errorf("unknown message kind %q", h.Kind)
	}
	if len(h.Body) > 0 {
		if err := json.Unmarshal(h.Body, body); err != nil {
			return Envelope{}, fmt.Errorf("failed to parse %s body: %w", h.Kind, err)
		}
	}
	if p, ok := body.(payloadBody); ok && len(payload) > 0 {
		p.setPayload(payload)
	}
	return Envelope{ID: h.ID, Body: body}, nil
}
