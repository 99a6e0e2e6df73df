package trailer

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// DumpCodec selects the compressor used by DumpCompressed/LoadCompressed.
// It never touches the on-flash wire format, which must stay bit-exact
// per spec §6; it only compresses the diagnostic export swapctl writes
// to disk.
type DumpCodec uint8

const (
	DumpSnappy DumpCodec = iota
	DumpLZ4
)

// snapshot is the flat, length-prefixed encoding DumpCompressed
// compresses: phase, seq, sizes, prefix, then every fingerprint.
func snapshot(st *Status) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(st.Phase))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], st.Seq)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], st.Sizes[0])
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], st.Sizes[1])
	buf.Write(tmp[:])
	buf.Write(st.Prefix[:])
	for slot := 0; slot < 2; slot++ {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(st.Hashes[slot])))
		buf.Write(tmp[:])
		for _, h := range st.Hashes[slot] {
			buf.Write(h[:])
		}
	}
	return buf.Bytes()
}

// DumpCompressed renders a trailer snapshot for diagnostics (swapctl
// dump), compressing the flat fingerprint arrays with the requested
// codec. The spill hash pages this mirrors are highly repetitive
// 4-byte-aligned arrays, which is exactly the payload shape the
// teacher's page compressor targets.
func DumpCompressed(st *Status, codec DumpCodec) ([]byte, error) {
	raw := snapshot(st)
	switch codec {
	case DumpSnappy:
		return snappy.Encode(nil, raw), nil
	case DumpLZ4:
		out := &bytes.Buffer{}
		w := lz4.NewWriter(out)
		w.NoChecksum = true
		if _, err := w.Write(raw); err != nil {
			return nil, errors.Wrap(err, "trailer: lz4 compress dump")
		}
		if err := w.Flush(); err != nil {
			return nil, errors.Wrap(err, "trailer: lz4 flush dump")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "trailer: lz4 close dump")
		}
		return out.Bytes(), nil
	default:
		return nil, errors.Errorf("trailer: unknown dump codec %d", codec)
	}
}

// LoadCompressed is the inverse of DumpCompressed.
func LoadCompressed(data []byte, codec DumpCodec) (*Status, error) {
	var raw []byte
	var err error
	switch codec {
	case DumpSnappy:
		raw, err = snappy.Decode(nil, data)
	case DumpLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out := &bytes.Buffer{}
		_, err = out.ReadFrom(r)
		raw = out.Bytes()
	default:
		return nil, errors.Errorf("trailer: unknown dump codec %d", codec)
	}
	if err != nil {
		return nil, errors.Wrap(err, "trailer: decompress dump")
	}
	if len(raw) < 17 {
		return nil, errors.New("trailer: truncated dump snapshot")
	}
	st := &Status{}
	st.Phase = Phase(raw[0])
	st.Seq = binary.LittleEndian.Uint32(raw[1:5])
	st.Sizes[0] = binary.LittleEndian.Uint32(raw[5:9])
	st.Sizes[1] = binary.LittleEndian.Uint32(raw[9:13])
	copy(st.Prefix[:], raw[13:17])
	off := 17
	for slot := 0; slot < 2; slot++ {
		if off+4 > len(raw) {
			return nil, errors.New("trailer: truncated dump snapshot")
		}
		count := int(binary.LittleEndian.Uint32(raw[off : off+4]))
		off += 4
		hashes := make([]planner4, count)
		for i := 0; i < count; i++ {
			if off+4 > len(raw) {
				return nil, errors.New("trailer: truncated dump snapshot")
			}
			copy(hashes[i][:], raw[off:off+4])
			off += 4
		}
		st.Hashes[slot] = hashes
	}
	return st, nil
}
