//go:build !windows

package capture

import (
	"os"
	"strings"

	"golang.org/x/text/encoding"
)

// hostEncoding takes the charset from the locale, i.e. "en_US.ISO-8859-1@euro" -> "ISO-8859-1"
func hostEncoding() encoding.Encoding {
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := os.Getenv(key)
		if val == "" {
			continue
		}
		if idx := strings.IndexByte(val, '@'); idx >= 0 {
			val = val[:idx]
		}
		idx := strings.IndexByte(val, '.')
		if idx < 0 {
			return nil
		}
		return encodingByName(val[idx+1:])
	}
	return nil
}
