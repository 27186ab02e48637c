//go:build windows

package capture

import (
	"strconv"

	"golang.org/x/sys/windows"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

var procGetConsoleOutputCP = windows.NewLazySystemDLL("kernel32.dll").NewProc("GetConsoleOutputCP")

// hostEncoding maps the console output code page, 0 means no console
func hostEncoding() encoding.Encoding {
	if procGetConsoleOutputCP.Find() != nil {
		return nil
	}
	cp, _, _ := procGetConsoleOutputCP.Call()
	switch cp {
	case 0:
		return nil
	case 65001:
		return unicode.UTF8
	}
	name := strconv.FormatUint(uint64(cp), 10)
	if enc := encodingByName("windows-" + name); enc != nil {
		return enc
	}
	return encodingByName("IBM" + name)
}
