package translate

import (
	"strconv"
	"strings"
)

const (
	percentTokenOpen  = "{PCT"
	percentTokenClose = "}"
)

// Escaped is text prepared for a translation service that mangles '%'.
//
// Every '%' is replaced by an indexed token ({PCT0}, {PCT1}, ...). If the input already
// contains the token prefix, the prefix is lengthened with '_' until it does not, so
// tokens never collide with source text. A token dropped or rewritten by the remote
// service cannot be recovered.
type Escaped struct {
	Text string

	open  string
	count int
}

// Escape replaces every literal '%' in s with an indexed placeholder token.
func Escape(s string) Escaped {
	open := percentTokenOpen
	for strings.Contains(s, open) {
		open += "_"
	}

	n := strings.Count(s, "%")
	if n == 0 {
		return Escaped{Text: s, open: open}
	}

	var b strings.Builder
	b.Grow(len(s) + n*(len(open)+len(percentTokenClose)+2))
	k := 0
	for {
		i := strings.IndexByte(s, '%')
		if i < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		b.WriteString(open)
		b.WriteString(strconv.Itoa(k))
		b.WriteString(percentTokenClose)
		k++
		s = s[i+1:]
	}
	return Escaped{Text: b.String(), open: open, count: n}
}

// Unescape turns the placeholder tokens in translated back into '%'.
func (e Escaped) Unescape(translated string) string {
	if e.count == 0 {
		return translated
	}
	pairs := make([]string, 0, e.count*2)
	for k := 0; k < e.count; k++ {
		pairs = append(pairs, e.open+strconv.Itoa(k)+percentTokenClose, "%")
	}
	return strings.NewReplacer(pairs...).Replace(translated)
}
