package tags

import (
	"fmt"
	"strings"
)

// JoinReference builds the canonical "<Book> <Chapter>:<Verse>" key.
func JoinReference(book, chapter, verse string) string {
	return fmt.Sprintf("%s %s:%s", strings.TrimSpace(book), strings.TrimSpace(chapter), strings.TrimSpace(verse))
}

// ChapterPrefix drops the verse component of reference, splitting at the last
// ':'. A reference with no ':' is its own prefix.
func ChapterPrefix(reference string) string {
	if i := strings.LastIndex(reference, ":"); i >= 0 {
		return reference[:i]
	}
	return reference
}
