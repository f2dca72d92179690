package header

import (
	"maps"
	"slices"
	"strconv"

	"github.com/vbohinc/sipcore/internal/util"
)

// Via is a single Via header field value: one hop a request has
// passed through, or will pass through on the way back for the
// response.
type Via struct {
	Transport string
	Host      string
	Port      uint16
	Branch    string
	Params    map[string]string
}

func (v *Via) HeaderName() Name { return "Via" }

func (v *Via) Clone() Header {
	clone := *v
	clone.Params = maps.Clone(v.Params)
	return &clone
}

func (v *Via) String() string {
	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString("SIP/2.0/")
	sb.WriteString(v.Transport)
	sb.WriteString(" ")
	sb.WriteString(v.Host)
	if v.Port != 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.FormatUint(uint64(v.Port), 10))
	}
	if v.Branch != "" {
		sb.WriteString(";branch=")
		sb.WriteString(v.Branch)
	}
	for _, k := range sortedKeys(v.Params) {
		sb.WriteString(";")
		sb.WriteString(k)
		if val := v.Params[k]; val != "" {
			sb.WriteString("=")
			sb.WriteString(val)
		}
	}
	return sb.String()
}

func sortedKeys(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
