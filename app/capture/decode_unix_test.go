//go:build !windows

package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/unicode"
)

func TestDetectEncoding(t *testing.T) {
	t.Setenv("LC_ALL", "de_DE.ISO-8859-1@euro")
	assert.Equal(t, "café", decode(DetectEncoding(), []byte("caf\xe9")))

	t.Setenv("LC_ALL", "")
	t.Setenv("LC_CTYPE", "")
	t.Setenv("LANG", "C")
	assert.Equal(t, unicode.UTF8, DetectEncoding(), "no charset in locale")

	t.Setenv("LANG", "en_US.bogus-charset")
	assert.Equal(t, unicode.UTF8, DetectEncoding())

	t.Setenv("LANG", "en_US.UTF-8")
	assert.Equal(t, "привет", decode(DetectEncoding(), []byte("привет")))
}
