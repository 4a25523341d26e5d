package store

import "strings"

// Sanitize strips markup-significant characters from client-supplied text:
// angle brackets are removed entirely, ampersand, double quote, apostrophe
// and forward slash are escaped. Stored text can then not be mistaken for
// markup when it is rendered later. This is defense in depth, not a full
// encoding contract.
//
// The replacement order matters: the ampersand is escaped first so the
// escapes themselves survive untouched.
func Sanitize(input string) string {
	s := strings.TrimSpace(input)
	s = strings.ReplaceAll(s, "<", "")
	s = strings.ReplaceAll(s, ">", "")
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, `"`, "&quot;")
	s = strings.ReplaceAll(s, "'", "&#x27;")
	s = strings.ReplaceAll(s, "/", "&#x2F;")
	return s
}
