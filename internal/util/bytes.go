package util

import (
	"bytes"
	"math"
	"sync"
)

var bytesRdrPool = sync.Pool{
	New: func() any { return bytes.NewReader(nil) },
}

func GetBytesReader(b []byte) *bytes.Reader {
	r := bytesRdrPool.Get().(*bytes.Reader) //nolint:forcetypeassert
	r.Reset(b)
	return r
}

func FreeBytesReader(r *bytes.Reader) {
	r.Reset(nil)
	bytesRdrPool.Put(r)
}

var bytesBufPool = &sync.Pool{
	New: func() any { return bytes.NewBuffer(make([]byte, 0, 64)) },
}

func GetBytesBuffer() *bytes.Buffer {
	return bytesBufPool.Get().(*bytes.Buffer) //nolint:forcetypeassert
}

func FreeBytesBuffer(b *bytes.Buffer) {
	b.Reset()
	if b.Cap() > math.MaxUint16 {
		return
	}
	bytesBufPool.Put(b)
}
