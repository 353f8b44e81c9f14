package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/language"

	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/speech"
	"github.com/onnwee/chatlens/telemetry"
)

// ErrNoInput is returned when the page has no message input to write into.
var ErrNoInput = errors.New("message input not found")

const recognizerRestartDelay = time.Second

// VoiceReply translates a final speech transcript into the language most
// recently detected from the counterparty and writes it into the message
// input. The transcript itself is used when the translation comes back
// empty. Safe to call from any goroutine.
func (o *Orchestrator) VoiceReply(ctx context.Context, transcript string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", nil
	}

	var target string
	if err := o.page.Call(ctx, func() { target = o.sess.lastDetected }); err != nil {
		return "", err
	}
	if target == "" {
		target = o.opts.ReplyLanguage
	}

	res, err := o.tr.Translate(ctx, transcript, target, o.voiceSource())
	if err != nil {
		telemetry.RecordVoiceReply("error")
		return "", fmt.Errorf("voice reply translation: %w", err)
	}
	text, result := res.TranslatedText, "ok"
	if strings.TrimSpace(text) == "" {
		text, result = transcript, "fallback"
	}

	wrote := false
	if err := o.page.Call(ctx, func() { wrote = o.writeInput(o.loc.FindInput(), text) }); err != nil {
		return "", err
	}
	if !wrote {
		telemetry.RecordVoiceReply("error")
		return text, ErrNoInput
	}
	telemetry.RecordVoiceReply(result)
	o.log.Debug("voice reply written", slog.String("target", target), slog.String("result", result))
	return text, nil
}

// voiceSource is the source hint for transcripts: the base language of the
// recognizer language.
func (o *Orchestrator) voiceSource() string {
	tag, err := language.Parse(o.opts.VoiceLanguage)
	if err != nil {
		return o.opts.VoiceLanguage
	}
	base, _ := tag.Base()
	return base.String()
}

// writeInput sets the value of an input, the text of a textarea or
// contenteditable element, and dispatches a bubbling input event. Other
// elements are left alone.
func (o *Orchestrator) writeInput(input *html.Node, text string) bool {
	if !dom.IsElement(input) {
		return false
	}
	switch {
	case input.Data == "input":
		o.doc.SetAttr(input, "value", text)
	case input.Data == "textarea", dom.AttrValue(input, "contenteditable") == "true":
		o.doc.SetTextContent(input, text)
	default:
		return false
	}
	o.doc.Dispatch(input, dom.Event{Type: "input", Target: input, Bubbles: true})
	return true
}

// ListenVoice feeds final transcripts from bridge into VoiceReply until ctx
// is done. Recognizers that end are restarted. Without a supported bridge
// voice replies stay disabled and ListenVoice returns immediately.
func (o *Orchestrator) ListenVoice(ctx context.Context, bridge speech.Bridge) error {
	if bridge == nil || !bridge.Supported() {
		o.log.Info("speech recognition unavailable, voice replies disabled")
		return nil
	}
	for ctx.Err() == nil {
		rec, err := bridge.NewRecognizer(speech.Config{Language: o.opts.VoiceLanguage})
		if err != nil {
			return fmt.Errorf("create recognizer: %w", err)
		}
		if err := rec.Start(ctx); err != nil {
			return fmt.Errorf("start recognizer: %w", err)
		}
		o.consume(ctx, rec)

		select {
		case <-ctx.Done():
		case <-time.After(recognizerRestartDelay):
		}
	}
	return nil
}

func (o *Orchestrator) consume(ctx context.Context, rec speech.Recognizer) {
	defer rec.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-rec.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case speech.EventResult:
				if _, err := o.VoiceReply(ctx, ev.Transcript); err != nil {
					o.log.Warn("voice reply failed", slog.Any("err", err))
				}
			case speech.EventError:
				o.log.Warn("speech recognition error", slog.Any("err", ev.Err))
			case speech.EventEnd:
				return
			}
		}
	}
}
