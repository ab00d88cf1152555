package sched

import "strings"

// Matches reports whether a published topic matches a subscription pattern.
//
// Topics are sequences of segments separated by '/'; empty segments are
// significant ("a/" is two segments, the second empty). Patterns may use the
// MQTT wildcards '+' (exactly one segment) and '#' (any number of trailing
// segments, legal only as the final segment). Wildcards in the published
// topic are rejected, as are wildcards placed inside a segment.
//
// Matches never allocates.
func Matches(published, pattern string) bool {
	if strings.ContainsAny(published, "#+") {
		return false
	}
	if published == pattern {
		return true
	}

	pub := published
	pubDone := false // all published segments consumed
	for pat := pattern; ; {
		end := strings.IndexByte(pat, '/')
		seg := pat
		if end >= 0 {
			seg = pat[:end]
		}
		switch {
		case seg == "#":
			// Legal only as the last segment; swallows everything left.
			// The empty topic matches no wildcard.
			return end < 0 && published != ""
		case strings.ContainsAny(seg, "#+"):
			return false
		case pubDone:
			return false
		default:
			cut := strings.IndexByte(pub, '/')
			cur := pub
			if cut >= 0 {
				cur = pub[:cut]
			}
			if seg != "+" && seg != cur {
				return false
			}
			if cut < 0 {
				pubDone = true
				pub = ""
			} else {
				pub = pub[cut+1:]
			}
		}
		if end < 0 {
			return pubDone
		}
		pat = pat[end+1:]
	}
}
