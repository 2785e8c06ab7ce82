package record

import "strings"

// Delimiter separates an embedded subtopic from the rest of the message,
// e.g. "instrument.dmm::reading done". The first occurrence wins.
const Delimiter = "::"

// SplitSubtopic splits the message on the first Delimiter. ok is false
// and rest equals msg when the delimiter is absent.
func SplitSubtopic(msg string) (sub, rest string, ok bool) {
	sub, rest, ok = strings.Cut(msg, Delimiter)
	if !ok {
		return "", msg, false
	}

	return sub, rest, true
}

// Topic joins the root namespace, the level name and the subtopic with
// dots. Empty segments are omitted.
func Topic(root string, lvl Level, sub string) string {
	segs := make([]string, 0, 3)

	if root != "" {
		segs = append(segs, root)
	}

	segs = append(segs, lvl.String())

	if sub != "" {
		segs = append(segs, sub)
	}

	return strings.Join(segs, ".")
}
