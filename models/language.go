package models

import (
	"regexp"
	"strings"
)

type Language string

const (
	EN Language = "en"
	DE Language = "de"
)

var languagePattern = regexp.MustCompile(`^(en|de)$`)

// ParseLanguage takes a locale such as "de_DE.UTF-8" and falls back to English.
func ParseLanguage(locale string) Language {
	value := strings.ToLower(locale)
	if len(value) >= 2 && ValidateLanguageRaw(value[:2]) {
		return Language(value[:2])
	}
	return EN
}

func ValidateLanguageRaw(value string) bool {
	return languagePattern.MatchString(value)
}
