package conv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCharset(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		canonical string
		wantErr   bool
	}{
		{name: "utf-8", input: "utf-8", canonical: "utf-8"},
		{name: "case insensitive", input: "UTF-8", canonical: "utf-8"},
		{name: "surrounding whitespace", input: "  gbk  ", canonical: "gbk"},
		{name: "alias utf8", input: "utf8", canonical: "utf-8"},
		{name: "alias sjis", input: "sjis", canonical: "shift_jis"},
		{name: "alias gb2312 folds into gbk", input: "gb2312", canonical: "gbk"},
		{name: "big5", input: "big5", canonical: "big5"},
		{name: "cyrillic codepage", input: "windows-1251", canonical: "windows-1251"},
		{name: "unknown", input: "klingon-1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, canonical, err := ResolveCharset(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownCharset)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, enc)
			assert.Equal(t, tt.canonical, canonical)
		})
	}
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("utf-8"))
	assert.True(t, IsSupported("koi8-r"))
	assert.False(t, IsSupported("not-a-charset"))
}

func TestSupportedCharsetsResolve(t *testing.T) {
	for _, info := range SupportedCharsets() {
		_, _, err := ResolveCharset(info.Name)
		assert.NoError(t, err, "charset %s must resolve", info.Name)
		for _, alias := range info.Aliases {
			_, _, err := ResolveCharset(alias)
			assert.NoError(t, err, "alias %s of %s must resolve", alias, info.Name)
		}
	}
}
