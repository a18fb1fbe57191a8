package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed lang/*.yaml
var bundledLocales embed.FS

const defaultLocale = "ko_KR"

type Locale struct {
	translations map[string]string
	locale       string
}

var globalLocale *Locale

// InitLocale loads the catalogue for the system locale, falling back to
// Korean, which every message exists in.
func InitLocale() error {
	locale := DetectSystemLocale()

	l, err := LoadLocale(locale)
	if err != nil {
		debugLog("locale %s unavailable, falling back to %s: %v", locale, defaultLocale, err)
		l, err = LoadLocale(defaultLocale)
		if err != nil {
			return fmt.Errorf("failed to load fallback locale %s: %w", defaultLocale, err)
		}
	}

	globalLocale = l
	return nil
}

// DetectSystemLocale detects the user's system locale
func DetectSystemLocale() string {
	for _, env := range []string{"SRT_LANG", "LANG", "LC_ALL", "LC_MESSAGES"} {
		if locale := os.Getenv(env); locale != "" {
			// LANG is typically like "en_US.UTF-8"
			parts := strings.Split(locale, ".")
			if parts[0] != "" && parts[0] != "C" && parts[0] != "POSIX" {
				return parts[0]
			}
		}
	}

	return defaultLocale
}

// LoadLocale loads lang/<locale>.yaml next to the executable if present,
// otherwise the bundled copy.
func LoadLocale(locale string) (*Locale, error) {
	var data []byte

	if exePath, err := os.Executable(); err == nil {
		localeFile := filepath.Join(filepath.Dir(exePath), "lang", locale+".yaml")
		if b, err := os.ReadFile(localeFile); err == nil {
			data = b
		}
	}

	if data == nil {
		b, err := bundledLocales.ReadFile("lang/" + locale + ".yaml")
		if err != nil {
			return nil, fmt.Errorf("no locale file for %s: %w", locale, err)
		}
		data = b
	}

	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse locale %s: %w", locale, err)
	}

	return &Locale{
		translations: translations,
		locale:       locale,
	}, nil
}

// T translates a key with optional fmt parameters.
// Usage: T("refresh_count", 3) => "새로고침 3회"
func T(key string, params ...interface{}) string {
	if globalLocale == nil {
		return key
	}

	translation, ok := globalLocale.translations[key]
	if !ok {
		return key
	}

	if len(params) > 0 {
		return fmt.Sprintf(translation, params...)
	}

	return translation
}

// GetLocale returns the current locale code (e.g. "ko_KR").
func GetLocale() string {
	if globalLocale == nil {
		return defaultLocale
	}
	return globalLocale.locale
}
