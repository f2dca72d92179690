package header

import "strconv"

// CSeq is the CSeq header field: a sequence number plus the method it
// was generated for.
type CSeq struct {
	Seq    uint32
	Method string
}

func (c *CSeq) HeaderName() Name { return "CSeq" }

func (c *CSeq) String() string {
	return strconv.FormatUint(uint64(c.Seq), 10) + " " + c.Method
}

func (c *CSeq) Clone() Header {
	clone := *c
	return &clone
}
