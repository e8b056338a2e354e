package pairing

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"unicode"

	apperrors "github.com/sentinelr/devicesync/internal/errors"
)

const (
	// CodeChars excludes O, I, 0 and 1 so codes survive being read aloud.
	CodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	GroupLength   = 4
	RawCodeLength = GroupLength * 2
	Separator     = '-'
	// CodeLength is the display length including the separator.
	CodeLength = RawCodeLength + 1
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}$`)

// GenerateCode returns a new display-formatted code such as "K7QM-XR3P".
func GenerateCode() (string, error) {
	alphabet := big.NewInt(int64(len(CodeChars)))
	raw := make([]byte, RawCodeLength)
	for i := range raw {
		n, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		raw[i] = CodeChars[n.Int64()]
	}
	return FormatCode(string(raw)), nil
}

// NormalizeInput turns free-form typed text into the display form: non
// alphanumerics are stripped, letters are uppercased, input is capped at
// RawCodeLength and the separator is inserted after the first group. Partial
// input yields a partial code ("ab1" -> "AB1", "ab12c" -> "AB12-C").
func NormalizeInput(input string) string {
	var b strings.Builder
	for _, r := range input {
		if b.Len() == RawCodeLength {
			break
		}
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return FormatCode(b.String())
}

// FormatCode inserts the separator into an already stripped code.
func FormatCode(raw string) string {
	if len(raw) <= GroupLength {
		return raw
	}
	return raw[:GroupLength] + string(Separator) + raw[GroupLength:]
}

// StripCode removes the separator, returning the raw alphanumeric code.
func StripCode(code string) string {
	return strings.ReplaceAll(code, string(Separator), "")
}

func IsValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// ValidateCode checks the shape of a normalized code. No network call is
// needed to reject a malformed code.
func ValidateCode(code string) error {
	if code == "" {
		return apperrors.MissingRequired("pairing code")
	}
	if len(code) != CodeLength {
		return apperrors.InvalidPairingCode(fmt.Sprintf("expected %d characters", RawCodeLength))
	}
	if !IsValidCode(code) {
		return apperrors.InvalidPairingCode("expected two groups of 4 letters or digits")
	}
	return nil
}

// MaskCode hides the second group for logging.
func MaskCode(code string) string {
	if len(code) <= GroupLength {
		return "****"
	}
	return code[:GroupLength] + "-****"
}
