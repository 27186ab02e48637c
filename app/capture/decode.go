package capture

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// LookupEncoding returns encoding by IANA name. Empty name returns the host output encoding.
func LookupEncoding(name string) (encoding.Encoding, error) {
	if strings.TrimSpace(name) == "" {
		return DetectEncoding(), nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("encoding %q is not supported", name)
	}
	return enc, nil
}

// DetectEncoding returns encoding of the host output, UTF-8 if it can't be figured out
func DetectEncoding() encoding.Encoding {
	if enc := hostEncoding(); enc != nil {
		return enc
	}
	return unicode.UTF8
}

func encodingByName(name string) encoding.Encoding {
	if name == "" {
		return nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil
	}
	return enc
}

// decode converts raw captured bytes to text. A multi-byte sequence cut by the capture
// limit is dropped, other invalid sequences become U+FFFD.
func decode(enc encoding.Encoding, data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if enc == nil || enc == unicode.UTF8 {
		data = trimPartialRune(data)
		if utf8.Valid(data) {
			return string(data)
		}
		enc = unicode.UTF8
	}
	res, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(res)
}

func trimPartialRune(data []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(data); i++ {
		if !utf8.RuneStart(data[len(data)-i]) {
			continue
		}
		if !utf8.FullRune(data[len(data)-i:]) {
			return data[:len(data)-i]
		}
		return data
	}
	return data
}
