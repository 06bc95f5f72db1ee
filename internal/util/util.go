package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// DateLayout is how project end dates are typed and stored.
const DateLayout = "02.01.2006"

// MaxDescriptionLen is the longest description that still fits a photo caption.
const MaxDescriptionLen = 850

func NowISO() string {
	return time.Now().Format(time.RFC3339)
}

func HMACSHA256Hex(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidToken compares a presented token with the expected HMAC in constant time.
func ValidToken(secret, msg, token string) bool {
	if secret == "" || token == "" {
		return false
	}
	return hmac.Equal([]byte(token), []byte(HMACSHA256Hex(secret, msg)))
}

func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, strings.TrimSpace(s))
	return err == nil
}

func ValidURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidDescription returns the length in characters and whether it is allowed.
func ValidDescription(s string) (int, bool) {
	n := utf8.RuneCountInString(s)
	return n, n > 0 && n <= MaxDescriptionLen
}

func ParseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative number: %d", n)
	}
	return n, nil
}

// NormalizePhone accepts Russian mobile numbers written with +7 or 8 and any
// separators, and returns them as +7XXXXXXXXXX.
func NormalizePhone(s string) (string, error) {
	var digits strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits.WriteRune(r)
		case r == '+' || r == '-' || r == ' ' || r == '(' || r == ')':
		default:
			return "", fmt.Errorf("unexpected character %q in phone", r)
		}
	}
	d := digits.String()
	if len(d) == 11 && (d[0] == '7' || d[0] == '8') {
		return "+7" + d[1:], nil
	}
	if len(d) == 10 && d[0] == '9' {
		return "+7" + d, nil
	}
	return "", fmt.Errorf("phone must have 11 digits: %q", s)
}

// ValidExternalID checks the school system id: exactly eight digits.
func ValidExternalID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 8 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Capitalize trims a personal name and upper-cases its first letter.
func Capitalize(s string) string {
	s = strings.TrimSpace(s)
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// ValidName accepts letters, spaces and hyphens only.
func ValidName(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || utf8.RuneCountInString(s) > 64 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '-' && r != ' ' {
			return false
		}
	}
	return true
}
