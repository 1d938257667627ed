package export

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var unsafeRun = regexp.MustCompile(`[^A-Za-z0-9]+`)

// SanitizeName turns a property name into a file-name stem: diacritics are
// folded to ASCII and every other run of non-alphanumerics becomes "_".
func SanitizeName(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	s := strings.Trim(unsafeRun.ReplaceAllString(folded, "_"), "_")
	if s == "" {
		return "property"
	}
	return s
}
