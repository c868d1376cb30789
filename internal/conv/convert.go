package conv

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// AutoDetect is the source charset value requesting detection.
const AutoDetect = "auto"

const bomRune = '\uFEFF'

// BOMPolicy controls byte order mark handling on the converted output.
type BOMPolicy string

const (
	BOMPreserve BOMPolicy = "preserve"
	BOMAdd      BOMPolicy = "add"
	BOMStrip    BOMPolicy = "strip"
)

// Valid reports whether p is a known policy. Empty means preserve.
func (p BOMPolicy) Valid() bool {
	switch p {
	case "", BOMPreserve, BOMAdd, BOMStrip:
		return true
	}
	return false
}

// Options selects source and target charsets and output normalization for a
// single conversion.
type Options struct {
	// Source is the input charset name, or "auto" (or empty) to detect.
	Source string
	// Target is the output charset name. Empty falls back to the
	// converter's default.
	Target string
	// Newline rewrites line endings. Defaults to preserve.
	Newline NewlinePolicy
	// BOM controls the byte order mark. Defaults to preserve.
	BOM BOMPolicy
	// Lossy replaces characters the target charset cannot represent
	// instead of failing the conversion.
	Lossy bool
}

// Result carries the converted bytes together with what the engine decided
// about the input.
type Result struct {
	Output        []byte
	SourceCharset string
	TargetCharset string
	Detected      bool
	Confidence    float64
	BytesIn       int
	BytesOut      int
}

// Converter converts byte streams between charsets. The zero value is not
// usable; construct with NewConverter.
type Converter struct {
	defaultTarget string
}

// NewConverter returns a converter that falls back to defaultTarget when a
// conversion does not name a target charset. An empty defaultTarget means
// utf-8.
func NewConverter(defaultTarget string) *Converter {
	if defaultTarget == "" {
		defaultTarget = "utf-8"
	}
	return &Converter{defaultTarget: defaultTarget}
}

// Convert decodes data from the source charset, applies newline and BOM
// normalization, and encodes to the target charset.
func (c *Converter) Convert(data []byte, opts Options) (*Result, error) {
	res := &Result{BytesIn: len(data)}

	srcName := opts.Source
	if srcName == "" || srcName == AutoDetect {
		det := DetectCharset(data)
		srcName = det.Charset
		res.Detected = true
		res.Confidence = det.Confidence
	}
	srcEnc, srcCanonical, err := ResolveCharset(srcName)
	if err != nil {
		return nil, err
	}
	res.SourceCharset = srcCanonical

	tgtName := opts.Target
	if tgtName == "" {
		tgtName = c.defaultTarget
	}
	tgtEnc, tgtCanonical, err := ResolveCharset(tgtName)
	if err != nil {
		return nil, err
	}
	res.TargetCharset = tgtCanonical

	decoded, _, err := transform.Bytes(srcEnc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodableInput, err)
	}
	if !opts.Lossy {
		if err := checkLossyDecode(srcEnc, data, decoded); err != nil {
			return nil, err
		}
	}

	decoded = applyBOMPolicy(decoded, opts.BOM)

	encoder, err := buildEncoder(tgtEnc, opts)
	if err != nil {
		return nil, err
	}
	out, _, err := transform.Bytes(encoder, decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodableRune, err)
	}

	res.Output = out
	res.BytesOut = len(out)
	return res, nil
}

// NewReader returns a reader producing r converted per opts. The source
// charset must be explicit; detection needs the whole input and is only
// available through Convert.
func (c *Converter) NewReader(r io.Reader, opts Options) (io.Reader, error) {
	if opts.Source == "" || opts.Source == AutoDetect {
		return nil, fmt.Errorf("%w: streaming conversion requires an explicit source charset", ErrUnknownCharset)
	}
	srcEnc, _, err := ResolveCharset(opts.Source)
	if err != nil {
		return nil, err
	}
	tgtName := opts.Target
	if tgtName == "" {
		tgtName = c.defaultTarget
	}
	tgtEnc, _, err := ResolveCharset(tgtName)
	if err != nil {
		return nil, err
	}
	encoder, err := buildEncoder(tgtEnc, opts)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(r, transform.Chain(srcEnc.NewDecoder(), encoder)), nil
}

// buildEncoder chains the newline transformer with the target encoder,
// honoring the lossy toggle.
func buildEncoder(tgt encoding.Encoding, opts Options) (transform.Transformer, error) {
	if !opts.BOM.Valid() {
		return nil, fmt.Errorf("invalid bom policy %q", opts.BOM)
	}
	nl, err := newNewlineTransformer(opts.Newline)
	if err != nil {
		return nil, err
	}
	enc := tgt.NewEncoder()
	if opts.Lossy {
		enc = encoding.ReplaceUnsupported(enc)
	}
	return transform.Chain(nl, enc), nil
}

// checkLossyDecode rejects input that the decoder could only represent with
// replacement characters. A replacement character that was already present
// in the source is not an error.
func checkLossyDecode(src encoding.Encoding, input, decoded []byte) error {
	if !bytes.ContainsRune(decoded, utf8.RuneError) {
		return nil
	}
	encoded, err := src.NewEncoder().Bytes([]byte(string(utf8.RuneError)))
	if err == nil && bytes.Contains(input, encoded) {
		return nil
	}
	return ErrUndecodableInput
}

// applyBOMPolicy adjusts the leading byte order mark of decoded UTF-8 text.
func applyBOMPolicy(decoded []byte, policy BOMPolicy) []byte {
	switch policy {
	case BOMStrip:
		return trimBOM(decoded)
	case BOMAdd:
		return append([]byte(string(bomRune)), trimBOM(decoded)...)
	}
	return decoded
}

func trimBOM(b []byte) []byte {
	if r, size := utf8.DecodeRune(b); r == bomRune {
		return b[size:]
	}
	return b
}
