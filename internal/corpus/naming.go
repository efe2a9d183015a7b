package corpus

import (
	"strings"
)

// ResultSuffix is appended to an encoded log path to form a result file name.
const ResultSuffix = ".json"

// segmentSeparator replaces path separators in encoded names.
const segmentSeparator = "__"

var unescaper = strings.NewReplacer("%5F", "_", "%25", "%")

// extMarker stands in for the dot of an extension whose case differs from the
// configured one. A literal "%" is always escaped, so the marker is unambiguous.
const extMarker = "%2E"

// EncodeName flattens a corpus-relative log path into a single file name.
//
// The mapping is reversible by DecodeName:
//   - "/" (and "\") become "__" and the log extension ext is dropped;
//   - an extension that matches ext only case-insensitively is kept as
//     "%2E" followed by its original spelling;
//   - inside a segment "%" becomes "%25", and "_" becomes "%5F" when it starts
//     or ends the segment or touches another "_".
//
// Single underscores inside a segment stay as they are, so typical names
// remain readable while no encoded segment can contain "__".
func EncodeName(rel, ext string) string {
	rel = strings.ReplaceAll(rel, "\\", "/")
	kept := ""
	if ext != "" && len(rel) >= len(ext) && strings.EqualFold(rel[len(rel)-len(ext):], ext) {
		tail := rel[len(rel)-len(ext):]
		if tail != ext && strings.HasPrefix(ext, ".") {
			kept = extMarker + escapeSegment(tail[1:])
		}
		rel = rel[:len(rel)-len(ext)]
	}
	segments := strings.Split(rel, "/")
	for i, seg := range segments {
		segments[i] = escapeSegment(seg)
	}
	return strings.Join(segments, segmentSeparator) + kept
}

// DecodeName reverses EncodeName and re-appends ext, or the extension spelling
// EncodeName kept.
func DecodeName(encoded, ext string) string {
	if i := strings.LastIndex(encoded, extMarker); i >= 0 && strings.HasPrefix(ext, ".") {
		kept := encoded[i+len(extMarker):]
		if !strings.Contains(kept, segmentSeparator) && strings.EqualFold(unescaper.Replace(kept), ext[1:]) {
			return decodeSegments(encoded[:i]) + "." + unescaper.Replace(kept)
		}
	}
	return decodeSegments(encoded) + ext
}

func decodeSegments(encoded string) string {
	segments := strings.Split(encoded, segmentSeparator)
	for i, seg := range segments {
		segments[i] = unescaper.Replace(seg)
	}
	return strings.Join(segments, "/")
}

// ResultFileName returns the detection result file name for a log path.
func ResultFileName(rel, ext string) string {
	return EncodeName(rel, ext) + ResultSuffix
}

// LogPathFromResult returns the corpus-relative log path a result file was
// produced for.
func LogPathFromResult(name, ext string) string {
	return DecodeName(strings.TrimSuffix(name, ResultSuffix), ext)
}

func escapeSegment(seg string) string {
	seg = strings.ReplaceAll(seg, "%", "%25")
	if !strings.Contains(seg, "_") {
		return seg
	}
	var b strings.Builder
	b.Grow(len(seg) + 8)
	last := len(seg) - 1
	for i := 0; i < len(seg); i++ {
		c := seg[i]
		if c == '_' && (i == 0 || i == last || seg[i-1] == '_' || seg[i+1] == '_') {
			b.WriteString("%5F")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
