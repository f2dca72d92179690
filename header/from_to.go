package header

import (
	"maps"

	"github.com/vbohinc/sipcore/internal/util"
)

// addr is the shared shape of a From/To header field value: a
// display-name-optional URI plus a tag parameter identifying one
// side of a dialog.
type addr struct {
	DisplayName string
	URI         string
	Tag         string
	Params      map[string]string
}

func (a addr) string() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	if a.DisplayName != "" {
		sb.WriteString(`"`)
		sb.WriteString(a.DisplayName)
		sb.WriteString(`" `)
	}
	sb.WriteString("<")
	sb.WriteString(a.URI)
	sb.WriteString(">")
	if a.Tag != "" {
		sb.WriteString(";tag=")
		sb.WriteString(a.Tag)
	}
	for _, k := range sortedKeys(a.Params) {
		sb.WriteString(";")
		sb.WriteString(k)
		if v := a.Params[k]; v != "" {
			sb.WriteString("=")
			sb.WriteString(v)
		}
	}
	return sb.String()
}

func (a addr) clone() addr {
	clone := a
	clone.Params = maps.Clone(a.Params)
	return clone
}

// From is the From header field.
type From addr

func (f *From) HeaderName() Name { return "From" }
func (f *From) String() string   { return addr(*f).string() }
func (f *From) Clone() Header {
	clone := addr(*f).clone()
	nf := From(clone)
	return &nf
}

// To is the To header field.
type To addr

func (t *To) HeaderName() Name { return "To" }
func (t *To) String() string   { return addr(*t).string() }
func (t *To) Clone() Header {
	clone := addr(*t).clone()
	nt := To(clone)
	return &nt
}
