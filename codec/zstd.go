package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses the output of Inner with zstd. Useful in front of the
// persistent and redis layers where bytes cost more than CPU.
// Construct with NewZstd; encoder and decoder are shared and safe for
// concurrent use.
type Zstd[V any] struct {
	inner Codec[V]
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// NewZstd builds a compressing codec. maxDecoded bounds the decompressed
// size (0 = the library default) so a hostile entry cannot balloon memory.
func NewZstd[V any](inner Codec[V], level zstd.EncoderLevel, maxDecoded uint64) (*Zstd[V], error) {
	if inner == nil {
		return nil, fmt.Errorf("codec: zstd needs an inner codec")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	dopts := []zstd.DOption{zstd.WithDecoderConcurrency(0)}
	if maxDecoded > 0 {
		dopts = append(dopts, zstd.WithDecoderMaxMemory(maxDecoded))
	}
	dec, err := zstd.NewReader(nil, dopts...)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Zstd[V]{inner: inner, enc: enc, dec: dec}, nil
}

func (z *Zstd[V]) Encode(v V) ([]byte, error) {
	b, err := z.inner.Encode(v)
	if err != nil {
		return nil, err
	}
	return z.enc.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

func (z *Zstd[V]) Decode(b []byte) (V, error) {
	raw, err := z.dec.DecodeAll(b, nil)
	if err != nil {
		var zero V
		return zero, fmt.Errorf("codec: zstd: %w", err)
	}
	return z.inner.Decode(raw)
}

// Close releases decoder goroutines.
func (z *Zstd[V]) Close() {
	z.dec.Close()
	_ = z.enc.Close()
}
