package middleware

import (
	"embed"
	"encoding/json"
	"io/fs"
	"path"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

const (
	languageKey   = "language"
	translatorKey = "translator"
)

// Translator hält die Übersetzungsfunktionalität
type Translator struct {
	bundle      *i18n.Bundle
	defaultLang string
	supported   map[string]bool
	matcher     language.Matcher
}

// NewTranslator lädt die eingebetteten Übersetzungsdateien
func NewTranslator(defaultLanguage string) (*Translator, error) {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	tag, err := language.Parse(defaultLanguage)
	if err != nil {
		return nil, err
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(localeFS, "locales/*.json")
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			return nil, err
		}
		log.Debugf("Loaded locale %s", path.Base(file))
	}

	t := &Translator{
		bundle:      bundle,
		defaultLang: tag.String(),
		supported:   make(map[string]bool),
		matcher:     language.NewMatcher(bundle.LanguageTags()),
	}
	for _, lt := range bundle.LanguageTags() {
		t.supported[lt.String()] = true
	}
	return t, nil
}

// Supports reports whether lang has a message file.
func (t *Translator) Supports(lang string) bool {
	return t.supported[lang]
}

// Localize übersetzt messageID. count selects the plural form and may be nil.
// Unknown IDs come back unchanged.
func (t *Translator) Localize(lang, messageID string, data map[string]interface{}, count interface{}) string {
	localizer := i18n.NewLocalizer(t.bundle, lang, t.defaultLang)
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
		PluralCount:  count,
	})
	if err != nil {
		log.Debugf("Missing translation %s for %s: %v", messageID, lang, err)
		return messageID
	}
	return msg
}

// match picks a supported language from an Accept-Language header.
func (t *Translator) match(header string) string {
	if header == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, conf := t.matcher.Match(tags...)
	if conf == language.No {
		return ""
	}
	return t.bundle.LanguageTags()[idx].String()
}

// I18n erstellt eine Middleware für die Internationalisierung. Reihenfolge: ?lang, Session,
// Accept-Language, Standardsprache. Needs the sessions middleware in front of it.
func I18n(translator *Translator) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		lang := c.Query("lang")

		if lang != "" && translator.Supports(lang) {
			session.Set(languageKey, lang)
			if err := session.Save(); err != nil {
				log.WithError(err).Debug("Sprache konnte nicht in der Session gespeichert werden")
			}
		} else if stored, ok := session.Get(languageKey).(string); ok && translator.Supports(stored) {
			lang = stored
		} else {
			lang = translator.match(c.GetHeader("Accept-Language"))
		}

		if !translator.Supports(lang) {
			lang = translator.defaultLang
		}

		c.Set(languageKey, lang)
		c.Set(translatorKey, translator)
		c.Next()
	}
}

// T übersetzt messageID in der Sprache der Anfrage.
func T(c *gin.Context, messageID string, data map[string]interface{}, count interface{}) string {
	t, ok := c.Get(translatorKey)
	if !ok {
		return messageID
	}
	return t.(*Translator).Localize(c.GetString(languageKey), messageID, data, count)
}
