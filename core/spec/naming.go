package spec

import "strings"

// MaxJobNameLength is the longest job name AWS Batch accepts
const MaxJobNameLength = 128

// SanitizeJobName makes name acceptable as an AWS Batch job name: ASCII
// letters, digits, hyphens and underscores only, an alphanumeric first
// character and at most MaxJobNameLength characters. Other characters become
// underscores; a name not starting with a letter or digit gets an "x_" prefix.
func SanitizeJobName(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 2)

	first := true
	for _, r := range name {
		if first {
			first = false
			if !isAlnum(r) {
				b.WriteString("x_")
			}
		}
		if isAlnum(r) || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if first {
		return "x_"
	}

	out := b.String()
	if len(out) > MaxJobNameLength {
		out = out[:MaxJobNameLength]
	}
	return out
}

func isAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}
