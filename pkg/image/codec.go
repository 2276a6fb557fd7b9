package image

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/snappy"

	"buildexpr/materializer-go/pkg/runtime"
)

const (
	magic         = "BXMI"
	formatVersion = 1
	headerSize    = 20

	flagSnappy uint16 = 1 << 0
)

// Encode verifies m and serialises it.
func Encode(m *Module) ([]byte, error) {
	if err := Verify(m); err != nil {
		return nil, err
	}
	w := &writer{}
	w.module(m)
	payload := snappy.Encode(nil, w.buf)

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out, magic)
	binary.LittleEndian.PutUint16(out[4:], formatVersion)
	binary.LittleEndian.PutUint16(out[6:], flagSnappy)
	binary.LittleEndian.PutUint32(out[8:], uint32(len(payload)))
	binary.LittleEndian.PutUint64(out[12:], xxhash.Sum64(payload))
	return append(out, payload...), nil
}

// Digest is the content hash stored in an encoded image header.
func Digest(data []byte) (uint64, error) {
	if len(data) < headerSize || string(data[:4]) != magic {
		return 0, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	return binary.LittleEndian.Uint64(data[12:]), nil
}

// Decode parses and verifies an encoded image.
func Decode(data []byte) (*Module, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	if string(data[:4]) != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrMalformed, data[:4])
	}
	if v := binary.LittleEndian.Uint16(data[4:]); v != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrMalformed, v)
	}
	flags := binary.LittleEndian.Uint16(data[6:])
	size := binary.LittleEndian.Uint32(data[8:])
	sum := binary.LittleEndian.Uint64(data[12:])
	payload := data[headerSize:]
	if uint32(len(payload)) != size {
		return nil, fmt.Errorf("%w: payload is %d bytes, header says %d", ErrMalformed, len(payload), size)
	}
	if xxhash.Sum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}
	if flags&flagSnappy != 0 {
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		payload = raw
	}
	r := &reader{buf: payload}
	m := r.module()
	if r.err != nil {
		return nil, r.err
	}
	if len(r.buf) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.buf))
	}
	if err := Verify(m); err != nil {
		return nil, err
	}
	return m, nil
}

//-----------------------------------------------------------------------------
// writer
//-----------------------------------------------------------------------------

type writer struct {
	buf []byte
}

func (w *writer) uvarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *writer) varint(v int64) { w.buf = binary.AppendVarint(w.buf, v) }

func (w *writer) str(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) kinds(ks []runtime.Kind) {
	w.uvarint(uint64(len(ks)))
	for _, k := range ks {
		w.buf = append(w.buf, byte(k))
	}
}

func (w *writer) value(v runtime.Value) {
	switch n := v.(type) {
	case runtime.FloatValue:
		w.buf = append(w.buf, byte(runtime.KindFloat))
		w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(n.Val))
	case runtime.IntegerValue:
		w.buf = append(w.buf, byte(runtime.KindInteger))
		w.varint(n.Val)
	case runtime.BoolValue:
		w.buf = append(w.buf, byte(runtime.KindBool))
		if n.Val {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
	}
}

func (w *writer) module(m *Module) {
	w.str(m.Name)
	w.uvarint(uint64(len(m.Imports)))
	for _, path := range m.Imports {
		w.str(path)
	}
	w.uvarint(uint64(len(m.Natives)))
	for _, n := range m.Natives {
		w.str(n.Path)
		w.str(n.Name)
		w.kinds(n.Params)
		w.buf = append(w.buf, byte(n.Result))
	}
	w.uvarint(uint64(len(m.Types)))
	for _, t := range m.Types {
		w.str(t.Name)
		w.uvarint(uint64(len(t.Fields)))
		for _, f := range t.Fields {
			w.str(f.Name)
			w.buf = append(w.buf, byte(f.Kind))
		}
		w.uvarint(uint64(len(t.Implements)))
		for _, iface := range t.Implements {
			w.str(iface)
		}
	}
	w.uvarint(uint64(len(m.Functions)))
	for _, fn := range m.Functions {
		w.str(fn.Name)
		w.varint(int64(fn.Receiver))
		if fn.PointerReceiver {
			w.buf = append(w.buf, 1)
		} else {
			w.buf = append(w.buf, 0)
		}
		w.kinds(fn.Params)
		w.buf = append(w.buf, byte(fn.Result))
		w.uvarint(uint64(fn.Locals))
		w.uvarint(uint64(len(fn.Consts)))
		for _, c := range fn.Consts {
			w.value(c)
		}
		w.uvarint(uint64(len(fn.Code)))
		for _, in := range fn.Code {
			w.buf = append(w.buf, byte(in.Op))
			w.varint(int64(in.A))
			w.varint(int64(in.B))
		}
	}
}

//-----------------------------------------------------------------------------
// reader
//-----------------------------------------------------------------------------

// maxCount bounds every length prefix so corrupt input cannot force huge allocations.
const maxCount = 1 << 20

type reader struct {
	buf []byte
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
	}
}

func (r *reader) u8() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.fail("unexpected end of payload")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail("bad uvarint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf)
	if n <= 0 {
		r.fail("bad varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *reader) i32() int32 {
	v := r.varint()
	if v < math.MinInt32 || v > math.MaxInt32 {
		r.fail("operand %d overflows int32", v)
		return 0
	}
	return int32(v)
}

func (r *reader) count() int {
	n := r.uvarint()
	if n > maxCount || n > uint64(len(r.buf)) {
		r.fail("length %d exceeds payload", n)
		return 0
	}
	return int(n)
}

func (r *reader) str() string {
	n := r.count()
	if r.err != nil {
		return ""
	}
	if n > len(r.buf) {
		r.fail("string of %d bytes exceeds payload", n)
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *reader) kind() runtime.Kind {
	k := runtime.Kind(r.u8())
	if r.err == nil && !k.Valid() {
		r.fail("unknown kind %d", k)
	}
	return k
}

func (r *reader) kinds() []runtime.Kind {
	n := r.count()
	if n == 0 {
		return nil
	}
	out := make([]runtime.Kind, n)
	for i := range out {
		out[i] = r.kind()
	}
	return out
}

func (r *reader) flag() bool {
	switch r.u8() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("bad bool")
		return false
	}
}

func (r *reader) value() runtime.Value {
	switch k := r.kind(); k {
	case runtime.KindFloat:
		if r.err != nil {
			return nil
		}
		if len(r.buf) < 8 {
			r.fail("truncated float constant")
			return nil
		}
		bits := binary.LittleEndian.Uint64(r.buf)
		r.buf = r.buf[8:]
		return runtime.FloatValue{Val: math.Float64frombits(bits)}
	case runtime.KindInteger:
		return runtime.IntegerValue{Val: r.varint()}
	case runtime.KindBool:
		return runtime.BoolValue{Val: r.flag()}
	default:
		r.fail("constant of kind %s", k)
		return nil
	}
}

func (r *reader) module() *Module {
	m := &Module{Name: r.str()}
	if n := r.count(); n > 0 {
		m.Imports = make([]string, n)
		for i := range m.Imports {
			m.Imports[i] = r.str()
		}
	}
	if n := r.count(); n > 0 {
		m.Natives = make([]NativeRef, n)
		for i := range m.Natives {
			m.Natives[i] = NativeRef{Path: r.str(), Name: r.str(), Params: r.kinds(), Result: r.kind()}
		}
	}
	if n := r.count(); n > 0 {
		m.Types = make([]Type, n)
		for i := range m.Types {
			t := Type{Name: r.str()}
			if nf := r.count(); nf > 0 {
				t.Fields = make([]Field, nf)
				for j := range t.Fields {
					t.Fields[j] = Field{Name: r.str(), Kind: r.kind()}
				}
			}
			if ni := r.count(); ni > 0 {
				t.Implements = make([]string, ni)
				for j := range t.Implements {
					t.Implements[j] = r.str()
				}
			}
			m.Types[i] = t
		}
	}
	if n := r.count(); n > 0 {
		m.Functions = make([]Function, n)
		for i := range m.Functions {
			fn := Function{
				Name:            r.str(),
				Receiver:        r.i32(),
				PointerReceiver: r.flag(),
				Params:          r.kinds(),
				Result:          r.kind(),
			}
			locals := r.uvarint()
			if locals > maxCount {
				r.fail("function %s declares %d locals", fn.Name, locals)
			}
			fn.Locals = int32(locals)
			if nc := r.count(); nc > 0 {
				fn.Consts = make([]runtime.Value, nc)
				for j := range fn.Consts {
					fn.Consts[j] = r.value()
				}
			}
			if nc := r.count(); nc > 0 {
				fn.Code = make([]Instr, nc)
				for j := range fn.Code {
					fn.Code[j] = Instr{Op: Op(r.u8()), A: r.i32(), B: r.i32()}
				}
			}
			m.Functions[i] = fn
		}
	}
	if r.err != nil {
		return nil
	}
	return m
}
