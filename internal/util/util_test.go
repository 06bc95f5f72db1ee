package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidDate(t *testing.T) {
	assert.True(t, ValidDate("31.12.2026"))
	assert.True(t, ValidDate(" 01.01.2027 "))
	assert.False(t, ValidDate("31.02.2026"))
	assert.False(t, ValidDate("00.01.2000"))
	assert.False(t, ValidDate("2026-12-31"))
}

func TestValidURL(t *testing.T) {
	assert.True(t, ValidURL("https://example.org/event"))
	assert.True(t, ValidURL("http://example.org"))
	assert.False(t, ValidURL("ftp://example.org"))
	assert.False(t, ValidURL("example.org"))
	assert.False(t, ValidURL("https://"))
}

func TestValidDescription(t *testing.T) {
	n, ok := ValidDescription(strings.Repeat("я", MaxDescriptionLen))
	assert.True(t, ok)
	assert.Equal(t, MaxDescriptionLen, n)

	n, ok = ValidDescription(strings.Repeat("я", MaxDescriptionLen+1))
	assert.False(t, ok)
	assert.Equal(t, MaxDescriptionLen+1, n)

	_, ok = ValidDescription("")
	assert.False(t, ok)
}

func TestParseNonNegative(t *testing.T) {
	n, err := ParseNonNegative(" 15 ")
	require.NoError(t, err)
	assert.Equal(t, 15, n)

	_, err = ParseNonNegative("-1")
	assert.Error(t, err)
	_, err = ParseNonNegative("десять")
	assert.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	for in, want := range map[string]string{
		"+7 (999) 000-11-22": "+79990001122",
		"89990001122":        "+79990001122",
		"9990001122":         "+79990001122",
	} {
		got, err := NormalizePhone(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"12345", "+1 555 000 1122", "8999000112a", ""} {
		_, err := NormalizePhone(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidExternalID(t *testing.T) {
	assert.True(t, ValidExternalID("12345678"))
	assert.False(t, ValidExternalID("1234567"))
	assert.False(t, ValidExternalID("1234567a"))
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Иван", Capitalize("  иВАН "))
	assert.Equal(t, "", Capitalize(""))
	assert.True(t, ValidName("Анна-Мария"))
	assert.False(t, ValidName("R2D2"))
}

func TestTokens(t *testing.T) {
	tok := HMACSHA256Hex("secret", "export:leaderboard")
	assert.Len(t, tok, 64)
	assert.True(t, ValidToken("secret", "export:leaderboard", tok))
	assert.False(t, ValidToken("secret", "export:sport:::1", tok))
	assert.False(t, ValidToken("", "export:leaderboard", HMACSHA256Hex("", "export:leaderboard")))
}
