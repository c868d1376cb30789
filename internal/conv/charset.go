package conv

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// Sentinel errors returned by the conversion engine. Callers compare with
// errors.Is and map them onto transport-level error responses.
var (
	ErrUnknownCharset   = errors.New("unknown charset")
	ErrUndecodableInput = errors.New("input is not valid in the source charset")
	ErrUnencodableRune  = errors.New("text contains characters outside the target charset")
	ErrEmptyInput       = errors.New("input is empty")
)

// CharsetInfo describes one supported charset for the discovery endpoint.
type CharsetInfo struct {
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases,omitempty"`
	Languages string   `json:"languages,omitempty"`
}

// supportedCharsets is the curated list exposed by the API. Resolution via
// htmlindex accepts more names than this; the list covers the encodings the
// service is expected to handle well.
var supportedCharsets = []CharsetInfo{
	{Name: "utf-8", Aliases: []string{"utf8", "unicode-1-1-utf-8"}, Languages: "universal"},
	{Name: "utf-16le", Aliases: []string{"utf-16"}, Languages: "universal"},
	{Name: "utf-16be", Languages: "universal"},
	{Name: "gbk", Aliases: []string{"gb2312", "x-gbk"}, Languages: "Simplified Chinese"},
	{Name: "gb18030", Languages: "Simplified Chinese"},
	{Name: "big5", Aliases: []string{"big5-hkscs", "cn-big5"}, Languages: "Traditional Chinese"},
	{Name: "shift_jis", Aliases: []string{"sjis", "ms_kanji"}, Languages: "Japanese"},
	{Name: "euc-jp", Languages: "Japanese"},
	{Name: "iso-2022-jp", Languages: "Japanese"},
	{Name: "euc-kr", Aliases: []string{"korean"}, Languages: "Korean"},
	{Name: "windows-1250", Languages: "Central European"},
	{Name: "windows-1251", Languages: "Cyrillic"},
	{Name: "windows-1252", Aliases: []string{"latin1", "iso-8859-1", "ascii"}, Languages: "Western European"},
	{Name: "windows-1253", Languages: "Greek"},
	{Name: "windows-1254", Languages: "Turkish"},
	{Name: "windows-1255", Languages: "Hebrew"},
	{Name: "windows-1256", Languages: "Arabic"},
	{Name: "windows-1257", Languages: "Baltic"},
	{Name: "windows-1258", Languages: "Vietnamese"},
	{Name: "iso-8859-2", Languages: "Central European"},
	{Name: "iso-8859-5", Languages: "Cyrillic"},
	{Name: "iso-8859-7", Languages: "Greek"},
	{Name: "iso-8859-15", Languages: "Western European"},
	{Name: "koi8-r", Languages: "Russian"},
	{Name: "koi8-u", Languages: "Ukrainian"},
	{Name: "macintosh", Aliases: []string{"x-mac-roman"}, Languages: "Western European"},
}

// SupportedCharsets returns the curated charset list. The slice is shared;
// callers must not mutate it.
func SupportedCharsets() []CharsetInfo {
	return supportedCharsets
}

// ResolveCharset maps a charset name or alias to its encoding and canonical
// WHATWG name. Returns ErrUnknownCharset when the name is not recognized.
func ResolveCharset(name string) (encoding.Encoding, string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(name))
	if trimmed == "" {
		return nil, "", fmt.Errorf("%w: empty name", ErrUnknownCharset)
	}
	enc, err := htmlindex.Get(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownCharset, name)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = trimmed
	}
	return enc, canonical, nil
}

// IsSupported reports whether name resolves to a known charset.
func IsSupported(name string) bool {
	_, _, err := ResolveCharset(name)
	return err == nil
}
