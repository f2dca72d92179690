package registrar

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sort"

	"braces.dev/errtrace"

	"github.com/vbohinc/sipcore/internal/util"
)

// Encode serializes an AoR's bindings using a length-free,
// NUL-terminated, little-endian layout. The CAS token is not part of
// the encoding: the serialized form is a pure function of the
// record's contents. Bindings are written in sorted-ID order, so
// Encode is deterministic regardless of map iteration order.
func Encode(aor *AoR) ([]byte, error) {
	ids := make([]string, 0, len(aor.Bindings))
	for id := range aor.Bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buf := util.GetBytesBuffer()
	defer util.FreeBytesBuffer(buf)

	if err := binary.Write(buf, binary.LittleEndian, uint32(len(ids))); err != nil {
		return nil, errtrace.Wrap(err)
	}

	for _, id := range ids {
		b := aor.Bindings[id]
		if b.Expires > math.MaxInt32 {
			return nil, errtrace.Wrap(ErrExpiresOverflow)
		}
		if err := encodeBinding(buf, b); err != nil {
			return nil, errtrace.Wrap(err)
		}
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func encodeBinding(buf *bytes.Buffer, b *Binding) error {
	writeString(buf, b.ID)
	writeString(buf, b.ContactURI)
	writeString(buf, b.CallID)
	if err := binary.Write(buf, binary.LittleEndian, b.CSeq); err != nil {
		return errtrace.Wrap(err)
	}
	if err := binary.Write(buf, binary.LittleEndian, b.Expires); err != nil {
		return errtrace.Wrap(err)
	}
	if err := binary.Write(buf, binary.LittleEndian, int32ForPriority(b.Priority)); err != nil {
		return errtrace.Wrap(err)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b.Params))); err != nil {
		return errtrace.Wrap(err)
	}
	for _, p := range b.Params {
		writeString(buf, p.Name)
		writeString(buf, p.Value)
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(b.Path))); err != nil {
		return errtrace.Wrap(err)
	}
	for _, p := range b.Path {
		writeString(buf, p)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func int32ForPriority(p int) int32 { return int32(p) }

// Decode is the exact inverse of Encode. Any short read or missing
// terminator returns ErrCorrupt; per policy the caller treats the AoR
// as missing rather than partially trusting it.
func Decode(id string, data []byte) (*AoR, error) {
	r := util.GetBytesReader(data)
	defer util.FreeBytesReader(r)

	var numBindings uint32
	if err := binary.Read(r, binary.LittleEndian, &numBindings); err != nil {
		return nil, errtrace.Wrap(ErrCorrupt)
	}
	if uint64(numBindings) > uint64(r.Len()) {
		return nil, errtrace.Wrap(ErrCorrupt)
	}

	aor := newEmptyAoR(id)
	for i := uint32(0); i < numBindings; i++ {
		b, err := decodeBinding(r)
		if err != nil {
			return nil, errtrace.Wrap(ErrCorrupt)
		}
		aor.Bindings[b.ID] = b
	}
	return aor, nil
}

func decodeBinding(r *bytes.Reader) (*Binding, error) {
	b := &Binding{}

	var err error
	if b.ID, err = readString(r); err != nil {
		return nil, err
	}
	if b.ContactURI, err = readString(r); err != nil {
		return nil, err
	}
	if b.CallID, err = readString(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.LittleEndian, &b.CSeq); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.LittleEndian, &b.Expires); err != nil {
		return nil, err
	}
	var priority int32
	if err = binary.Read(r, binary.LittleEndian, &priority); err != nil {
		return nil, err
	}
	b.Priority = int(priority)

	var numParams uint32
	if err = binary.Read(r, binary.LittleEndian, &numParams); err != nil {
		return nil, err
	}
	// Each param needs at least two terminators, so a count larger
	// than the remaining input is corrupt, not just unusually big.
	if uint64(numParams)*2 > uint64(r.Len()) {
		return nil, ErrCorrupt
	}
	if numParams > 0 {
		b.Params = make([]Param, numParams)
	}
	for i := range b.Params {
		if b.Params[i].Name, err = readString(r); err != nil {
			return nil, err
		}
		if b.Params[i].Value, err = readString(r); err != nil {
			return nil, err
		}
	}

	var numPath uint32
	if err = binary.Read(r, binary.LittleEndian, &numPath); err != nil {
		return nil, err
	}
	if uint64(numPath) > uint64(r.Len()) {
		return nil, ErrCorrupt
	}
	if numPath > 0 {
		b.Path = make([]string, numPath)
	}
	for i := range b.Path {
		if b.Path[i], err = readString(r); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// readString consumes bytes up to and including the next NUL
// terminator. Running out of input before the terminator is a corrupt
// record.
func readString(r *bytes.Reader) (string, error) {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", errtrace.Wrap(ErrCorrupt)
			}
			return "", errtrace.Wrap(err)
		}
		if c == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}
