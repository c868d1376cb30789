// Package conv implements the text conversion engine: charset resolution,
// encoding detection, newline and BOM normalization, and the transform
// pipeline that converts byte streams between character encodings.
//
// All conversions run through golang.org/x/text: input bytes are decoded to
// UTF-8, passed through an optional newline transformer, and re-encoded to
// the target charset. Charset names are resolved against the WHATWG index
// (htmlindex), so IANA names and their aliases are accepted.
package conv
