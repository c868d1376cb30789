package conv

import (
	"fmt"

	"golang.org/x/text/transform"
)

// NewlinePolicy controls line ending normalization of the converted text.
type NewlinePolicy string

const (
	NewlinePreserve NewlinePolicy = "preserve"
	NewlineLF       NewlinePolicy = "lf"
	NewlineCRLF     NewlinePolicy = "crlf"
	NewlineCR       NewlinePolicy = "cr"
)

// Valid reports whether p is one of the known policies. The empty string is
// valid and means preserve.
func (p NewlinePolicy) Valid() bool {
	switch p {
	case "", NewlinePreserve, NewlineLF, NewlineCRLF, NewlineCR:
		return true
	}
	return false
}

func (p NewlinePolicy) terminator() []byte {
	switch p {
	case NewlineLF:
		return []byte{'\n'}
	case NewlineCRLF:
		return []byte{'\r', '\n'}
	case NewlineCR:
		return []byte{'\r'}
	}
	return nil
}

// newNewlineTransformer returns a transformer rewriting line breaks to the
// policy's terminator, or transform.Nop for preserve.
func newNewlineTransformer(p NewlinePolicy) (transform.Transformer, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid newline policy %q", p)
	}
	eol := p.terminator()
	if eol == nil {
		return transform.Nop, nil
	}
	return &newlineTransformer{eol: eol}, nil
}

// newlineTransformer rewrites CRLF, lone CR, and lone LF to a single
// terminator. It operates on the UTF-8 stream between decoder and encoder,
// where line break bytes cannot occur inside multi-byte sequences.
type newlineTransformer struct {
	transform.NopResetter
	eol []byte
}

func (t *newlineTransformer) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		c := src[nSrc]
		switch c {
		case '\r':
			// A trailing CR may be half of a CRLF split across chunks.
			if nSrc == len(src)-1 && !atEOF {
				return nDst, nSrc, transform.ErrShortSrc
			}
			if len(dst)-nDst < len(t.eol) {
				return nDst, nSrc, transform.ErrShortDst
			}
			nDst += copy(dst[nDst:], t.eol)
			nSrc++
			if nSrc < len(src) && src[nSrc] == '\n' {
				nSrc++
			}
		case '\n':
			if len(dst)-nDst < len(t.eol) {
				return nDst, nSrc, transform.ErrShortDst
			}
			nDst += copy(dst[nDst:], t.eol)
			nSrc++
		default:
			if nDst >= len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = c
			nDst++
			nSrc++
		}
	}
	return nDst, nSrc, nil
}
