package overlay

import (
	"embed"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"
)

//go:embed active.*.toml
var localeFS embed.FS

// Message ids used by the overlay.
const (
	MsgTranslating       = "translating"
	MsgTranslationFailed = "translation_failed"
	MsgShowOriginal      = "show_original"
	MsgShowTranslation   = "show_translation"
)

// Messages renders overlay labels for one locale.
type Messages struct {
	localizer *i18n.Localizer
	locale    language.Tag
}

// NewMessages loads the embedded catalogs and localizes into locale, falling
// back to English.
func NewMessages(locale string) *Messages {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	for _, file := range []string{"active.en.toml", "active.ja.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, file); err != nil {
			slog.Warn("failed to load overlay messages", slog.String("file", file), slog.Any("err", err), slog.String("component", "overlay"))
		}
	}
	return &Messages{
		localizer: i18n.NewLocalizer(bundle, tag.String(), language.English.String()),
		locale:    tag,
	}
}

// Locale is the language the labels render in.
func (m *Messages) Locale() language.Tag { return m.locale }

// Text returns the label for id, or id itself when it is unknown.
func (m *Messages) Text(id string) string {
	if m == nil || m.localizer == nil {
		return id
	}
	msg, err := m.localizer.Localize(&i18n.LocalizeConfig{MessageID: id})
	if msg == "" {
		slog.Debug("overlay label missing", slog.String("id", id), slog.Any("err", err), slog.String("component", "overlay"))
		return id
	}
	return msg
}
