package programs

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrInvalidAccountData is returned when account bytes do not match the expected layout.
var ErrInvalidAccountData = errors.New("invalid account data")

// borshWriter accumulates the first error so call sites can write fields
// without checking each one.
type borshWriter struct {
	buf bytes.Buffer
	enc *bin.Encoder
	err error
}

func newBorshWriter() *borshWriter {
	w := &borshWriter{}
	w.enc = bin.NewBorshEncoder(&w.buf)
	return w
}

func (w *borshWriter) put(v any) {
	if w.err != nil {
		return
	}
	w.err = w.enc.Encode(v)
}

func (w *borshWriter) raw(b []byte) {
	if w.err != nil {
		return
	}
	w.err = w.enc.WriteBytes(b, false)
}

func (w *borshWriter) pubkey(pk solana.PublicKey) {
	w.raw(pk[:])
}

func (w *borshWriter) vec(b []byte) {
	w.put(uint32(len(b)))
	w.raw(b)
}

func (w *borshWriter) str(s string) {
	w.vec([]byte(s))
}

func (w *borshWriter) optionU64(v *uint64) {
	if v == nil {
		w.put(uint8(0))
		return
	}
	w.put(uint8(1))
	w.put(*v)
}

func (w *borshWriter) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf.Bytes(), nil
}

type borshReader struct {
	dec *bin.Decoder
	err error
}

func newBorshReader(data []byte) *borshReader {
	return &borshReader{dec: bin.NewBorshDecoder(data)}
}

func (r *borshReader) get(v any) {
	if r.err != nil {
		return
	}
	r.err = r.dec.Decode(v)
}

func (r *borshReader) u8() uint8 {
	var v uint8
	r.get(&v)
	return v
}

func (r *borshReader) u16() uint16 {
	var v uint16
	r.get(&v)
	return v
}

func (r *borshReader) u32() uint32 {
	var v uint32
	r.get(&v)
	return v
}

func (r *borshReader) u64() uint64 {
	var v uint64
	r.get(&v)
	return v
}

func (r *borshReader) i64() int64 {
	var v int64
	r.get(&v)
	return v
}

func (r *borshReader) raw(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.dec.Remaining() {
		r.err = fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidAccountData, n, r.dec.Remaining())
		return nil
	}
	b, err := r.dec.ReadNBytes(n)
	if err != nil {
		r.err = err
		return nil
	}
	return b
}

func (r *borshReader) pubkey() solana.PublicKey {
	b := r.raw(32)
	if b == nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

func (r *borshReader) hash() [32]byte {
	var h [32]byte
	copy(h[:], r.raw(32))
	return h
}

func (r *borshReader) vec() []byte {
	n := r.u32()
	return r.raw(int(n))
}

func (r *borshReader) str() string {
	return string(r.vec())
}

func (r *borshReader) optionU64() *uint64 {
	switch r.u8() {
	case 0:
		return nil
	case 1:
		v := r.u64()
		return &v
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: bad option tag", ErrInvalidAccountData)
		}
		return nil
	}
}

func (r *borshReader) discriminator(want discriminator) {
	got := r.raw(8)
	if r.err != nil {
		return
	}
	if !bytes.Equal(got, want[:]) {
		r.err = fmt.Errorf("%w: discriminator mismatch", ErrInvalidAccountData)
	}
}
