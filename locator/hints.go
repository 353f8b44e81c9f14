package locator

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Hints are the ordered selector lists used to find chat structure on a
// page. Order matters: earlier hints win.
type Hints struct {
	Lists  []string `toml:"lists"`
	Items  []string `toml:"items"`
	Texts  []string `toml:"texts"`
	Inputs []string `toml:"inputs"`
}

// DefaultHints covers the chat widgets the tool was first written for.
func DefaultHints() Hints {
	return Hints{
		Lists: []string{
			`[data-testid="chat-message-list"]`,
			`[data-testid="message-list"]`,
			`[data-testid="chat-room"]`,
			`.chatroom-message-list`,
			`.message-list`,
			`.chat-messages`,
			`.chat-thread`,
			`.shopee-chatroom__messages`,
			`.stardust-chat-room__messages`,
		},
		Items: []string{
			`[data-testid="chat-message"]`,
			`[data-testid="message-item"]`,
			`.chat-message`,
			`.message-item`,
			`.bubble`,
			`.chat-content`,
			`.shopee-chat-message`,
			`.chat-message__text`,
		},
		Texts: []string{
			`[data-testid="message-text"]`,
			`.chat-message-text`,
			`.chat-bubble__text`,
			`.message-text`,
			`.bubble-text`,
			`.shopee-chat-message__bubble`,
			`.chat-content`,
			`.chat-bubble`,
			`.chat-message__text`,
			`.chat-message`,
		},
		Inputs: []string{
			`textarea`,
			`input[type="text"]`,
			`div[contenteditable="true"]`,
		},
	}
}

// ParseHints decodes TOML hints on top of the defaults. Lists missing from
// the document keep their default value.
func ParseHints(data []byte) (Hints, error) {
	var file struct {
		Lists  *[]string `toml:"lists"`
		Items  *[]string `toml:"items"`
		Texts  *[]string `toml:"texts"`
		Inputs *[]string `toml:"inputs"`
	}
	if err := toml.Unmarshal(data, &file); err != nil {
		return Hints{}, fmt.Errorf("decode selector hints: %w", err)
	}
	h := DefaultHints()
	for dst, src := range map[*[]string]*[]string{
		&h.Lists: file.Lists, &h.Items: file.Items, &h.Texts: file.Texts, &h.Inputs: file.Inputs,
	} {
		if src != nil {
			*dst = *src
		}
	}
	if err := h.Validate(); err != nil {
		return Hints{}, err
	}
	return h, nil
}

// LoadHints reads a TOML hints file. An empty path returns the defaults.
func LoadHints(path string) (Hints, error) {
	if path == "" {
		return DefaultHints(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Hints{}, fmt.Errorf("read selector hints: %w", err)
	}
	return ParseHints(data)
}

// Validate requires at least one list and one item hint.
func (h Hints) Validate() error {
	if len(h.Lists) == 0 {
		return errors.New("selector hints: no list selectors")
	}
	if len(h.Items) == 0 {
		return errors.New("selector hints: no item selectors")
	}
	return nil
}
