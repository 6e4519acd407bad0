package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var LocalesFS embed.FS

type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<langCode>.yaml from fsys.
func NewTranslator(fsys fs.FS, langCode string) (*Translator, error) {
	filePath := path.Join("locales", langCode+".yaml")
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read translation file %s: %w", filePath, err)
	}
	return newTranslatorFromBytes(langCode, data)
}

func newTranslatorFromBytes(langCode string, data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("failed to parse translation file: %w", err)
	}
	return &Translator{lang: langCode, translations: translations}, nil
}

// T returns the translation for key, formatted with args. Unknown keys come back as is.
func (t *Translator) T(key string, args ...interface{}) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang }

// Bundle selects a translator from an Accept-Language header.
type Bundle struct {
	tags        []language.Tag
	translators []*Translator
	matcher     language.Matcher
}

// LoadBundle loads every language in langs. The first one is the fallback.
func LoadBundle(fsys fs.FS, langs ...string) (*Bundle, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("i18n: no languages")
	}
	b := &Bundle{}
	for _, l := range langs {
		tag, err := language.Parse(l)
		if err != nil {
			return nil, fmt.Errorf("i18n: %q: %w", l, err)
		}
		tr, err := NewTranslator(fsys, l)
		if err != nil {
			return nil, err
		}
		b.tags = append(b.tags, tag)
		b.translators = append(b.translators, tr)
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

// For returns the best translator for acceptLanguage, or the fallback.
func (b *Bundle) For(acceptLanguage string) *Translator {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return b.translators[0]
	}
	_, idx, conf := b.matcher.Match(tags...)
	if conf == language.No {
		return b.translators[0]
	}
	return b.translators[idx]
}
