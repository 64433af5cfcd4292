package meeting

import (
	"errors"
	"fmt"
)

// ErrInvalidLanguage is returned when a language code is not supported.
var ErrInvalidLanguage = errors.New("meeting: unsupported language")

// Language is the output language of transcripts, reports and chat replies.
type Language string

const (
	English Language = "en"
	Spanish Language = "es"
)

// DefaultLanguage is used when a caller does not specify one.
const DefaultLanguage = Spanish

// ParseLanguage validates s. An empty string yields [DefaultLanguage].
func ParseLanguage(s string) (Language, error) {
	switch l := Language(s); l {
	case "":
		return DefaultLanguage, nil
	case English, Spanish:
		return l, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, s)
	}
}

// Valid reports whether l is a supported language.
func (l Language) Valid() bool { return l == English || l == Spanish }

// Name returns the language name used in model instructions.
func (l Language) Name() string {
	if l == Spanish {
		return "Español"
	}
	return "English"
}

// BCP47 returns the speech locale for l.
func (l Language) BCP47() string {
	if l == Spanish {
		return "es-ES"
	}
	return "en-US"
}
