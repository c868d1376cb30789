package conv

import (
	"bytes"
	"unicode/utf8"
)

// Detection confidence levels. BOM sniffing is definitive, UTF-8 validation
// is near certain, and the multi-byte heuristics report the pair-match ratio.
const (
	confidenceBOM      = 1.0
	confidenceUTF8     = 0.95
	confidenceFallback = 0.30
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Detection is the result of charset auto-detection.
type Detection struct {
	Charset    string  `json:"charset"`
	Confidence float64 `json:"confidence"`
}

// DetectCharset guesses the charset of data. It checks byte order marks
// first, then UTF-8 validity, then scores the common East Asian multi-byte
// encodings by how many legal lead/trail byte pairs the data contains.
// Undecided input falls back to windows-1252 with low confidence.
func DetectCharset(data []byte) Detection {
	if len(data) == 0 {
		return Detection{Charset: "utf-8", Confidence: confidenceFallback}
	}

	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return Detection{Charset: "utf-8", Confidence: confidenceBOM}
	case bytes.HasPrefix(data, bomUTF16LE):
		return Detection{Charset: "utf-16le", Confidence: confidenceBOM}
	case bytes.HasPrefix(data, bomUTF16BE):
		return Detection{Charset: "utf-16be", Confidence: confidenceBOM}
	}

	if utf8.Valid(data) {
		return Detection{Charset: "utf-8", Confidence: confidenceUTF8}
	}

	best := Detection{Charset: "windows-1252", Confidence: confidenceFallback}
	candidates := []struct {
		charset string
		score   float64
	}{
		{"gb18030", scorePairs(data, isGBKLead, isGBKTrail)},
		{"big5", scorePairs(data, isBig5Lead, isBig5Trail)},
		{"shift_jis", scoreShiftJIS(data)},
	}
	for _, c := range candidates {
		if c.score > best.Confidence {
			best = Detection{Charset: c.charset, Confidence: c.score}
		}
	}
	return best
}

// scorePairs walks the data treating every byte with the high bit set as the
// lead of a two-byte sequence and returns the fraction of such sequences
// that form a legal pair for the encoding.
func scorePairs(data []byte, lead, trail func(byte) bool) float64 {
	var total, valid int
	for i := 0; i < len(data); i++ {
		if data[i] < 0x80 {
			continue
		}
		total++
		if lead(data[i]) && i+1 < len(data) && trail(data[i+1]) {
			valid++
			total++
			i++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(valid*2) / float64(total)
}

func isGBKLead(b byte) bool  { return b >= 0x81 && b <= 0xFE }
func isGBKTrail(b byte) bool { return b >= 0x40 && b <= 0xFE && b != 0x7F }

func isBig5Lead(b byte) bool { return b >= 0xA1 && b <= 0xF9 }
func isBig5Trail(b byte) bool {
	return (b >= 0x40 && b <= 0x7E) || (b >= 0xA1 && b <= 0xFE)
}

func isSJISLead(b byte) bool {
	return (b >= 0x81 && b <= 0x9F) || (b >= 0xE0 && b <= 0xEF)
}
func isSJISTrail(b byte) bool { return b >= 0x40 && b <= 0xFC && b != 0x7F }

// scoreShiftJIS is like scorePairs but also accepts the single-byte
// half-width katakana range 0xA1-0xDF.
func scoreShiftJIS(data []byte) float64 {
	var total, valid int
	for i := 0; i < len(data); i++ {
		if data[i] < 0x80 {
			continue
		}
		total++
		switch {
		case data[i] >= 0xA1 && data[i] <= 0xDF:
			valid++
		case isSJISLead(data[i]) && i+1 < len(data) && isSJISTrail(data[i+1]):
			valid++
			total++
			valid++
			i++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(valid) / float64(total)
}
