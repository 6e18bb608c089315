// Package sanitize cleans untrusted file names and paths.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxFilenameLength is the longest name Filename returns, in bytes.
	MaxFilenameLength = 128

	// hashSuffixLength is len("_") plus 8 hex characters.
	hashSuffixLength = 9
)

// reservedNames are device names Windows refuses as file names.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// Filename reduces a client-supplied file name to a safe flat name.
//
// Rules applied:
//   - Unicode is decomposed (NFKD) and non-ASCII runes are dropped
//   - Path separators become spaces, so no directory component survives
//   - Whitespace runs become a single underscore
//   - Only [A-Za-z0-9_.-] is kept
//   - Leading and trailing dots and underscores are trimmed
//   - Windows device names get a leading underscore
//   - Names longer than MaxFilenameLength are truncated with a hash suffix,
//     keeping the extension
//
// The result may be empty; callers must reject it.
//
// Examples:
//
//	"My cool movie.mov"      -> "My_cool_movie.mov"
//	"../../../etc/passwd"    -> "etc_passwd"
//	"i contain cool ümläuts.txt" -> "i_contain_cool_umlauts.txt"
func Filename(name string) string {
	name = norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune(' ')
		case r > unicode.MaxASCII:
		default:
			b.WriteRune(r)
		}
	}

	name = strings.Join(strings.Fields(b.String()), "_")

	b.Reset()
	for _, r := range name {
		if r == '_' || r == '.' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name = strings.Trim(b.String(), "._")

	if name == "" {
		return ""
	}

	stem := strings.ToUpper(strings.SplitN(name, ".", 2)[0])
	if reservedNames[stem] {
		name = "_" + name
	}

	if len(name) > MaxFilenameLength {
		name = truncateWithHash(name)
	}
	return name
}

// truncateWithHash shortens s to MaxFilenameLength, appending a hash of the
// full name before the extension to keep distinct names distinct.
//
// Format: <truncated>_<8-char-hash><ext>
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]

	ext := filepath.Ext(s)
	if len(ext) > MaxFilenameLength/4 {
		ext = ""
	}

	maxBase := MaxFilenameLength - hashSuffixLength - len(ext)
	base := strings.TrimRight(s[:maxBase], "._")
	return base + suffix + ext
}
