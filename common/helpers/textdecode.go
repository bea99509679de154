package helpers

import (
	"golang.org/x/text/encoding/charmap"
	"log"
	"strings"
	"unicode/utf8"
)

/**
subprocess output from older build environments is not always utf-8. If the given bytes are not valid utf-8
they are decoded as ISO-8859-1 so that downstream string handling does not mangle them
*/
func DecodeProcessOutput(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	decoded, decodeErr := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if decodeErr != nil {
		log.Printf("WARNING: could not decode process output as ISO-8859-1: %s", decodeErr)
		return strings.ToValidUTF8(string(raw), "?")
	}
	return string(decoded)
}

/**
parse KEY=VALUE lines (as output by `env`) into a map, keeping only the requested keys.
lines without an '=' are skipped. Values are everything after the first '=', so they may contain more of them
*/
func ParseEnvOutput(output string, keepKeys []string) map[string]string {
	wanted := make(map[string]bool, len(keepKeys))
	for _, k := range keepKeys {
		wanted[k] = true
	}

	rtn := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(strings.TrimRight(line, "\r"), "=", 2)
		if len(parts) != 2 {
			continue
		}
		if wanted[parts[0]] {
			rtn[parts[0]] = parts[1]
		}
	}
	return rtn
}
