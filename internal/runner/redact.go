package runner

import "strings"

const redacted = "[REDACTED]"

// Redact returns a copy of args with the values of the given flags
// replaced. Both "--flag value" and "--flag=value" forms are recognized.
func Redact(args []string, flags ...string) []string {
	ret := append([]string(nil), args...)
	if len(flags) == 0 {
		return ret
	}
	for i := 0; i < len(ret); i++ {
		for _, f := range flags {
			if ret[i] == f && i+1 < len(ret) {
				ret[i+1] = redacted
				i++
				break
			}
			if strings.HasPrefix(ret[i], f+"=") {
				ret[i] = f + "=" + redacted
				break
			}
		}
	}
	return ret
}
