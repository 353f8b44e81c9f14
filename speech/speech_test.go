package speech

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"
)

func TestUnsupported(t *testing.T) {
	var b Bridge = Unsupported{}
	if b.Supported() {
		t.Error("Unsupported reports support")
	}
	if _, err := b.NewRecognizer(Config{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestFeedDeliversToStartedRecognizers(t *testing.T) {
	f := NewFeed()
	r, err := f.NewRecognizer(Config{Language: "ja-JP"})
	if err != nil {
		t.Fatal(err)
	}
	if n := f.Push("こんにちは", ""); n != 0 {
		t.Errorf("delivered before Start: %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}
	if n := f.Push("  ", ""); n != 0 {
		t.Error("blank transcript delivered")
	}
	if n := f.Push("おはよう", "en-US"); n != 0 {
		t.Error("language mismatch delivered")
	}
	if n := f.Push(" おはよう ", "ja-jp"); n != 1 {
		t.Fatalf("delivered = %d", n)
	}
	ev := <-r.Events()
	if ev.Kind != EventResult || ev.Transcript != "おはよう" {
		t.Errorf("event = %+v", ev)
	}

	f.Fail(errors.New("mic"))
	if ev := <-r.Events(); ev.Kind != EventError || ev.Err == nil {
		t.Errorf("event = %+v", ev)
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				if f.Listeners() != 0 {
					t.Error("stopped recognizer still registered")
				}
				return
			}
			if ev.Kind != EventEnd {
				t.Errorf("unexpected event %v", ev.Kind)
			}
		case <-deadline:
			t.Fatal("events channel not closed after cancel")
		}
	}
}

func TestFeedMatchesBaseLanguage(t *testing.T) {
	tests := []struct {
		recognizer string
		push       string
		want       int
	}{
		{"ja-JP", "ja", 1},
		{"ja", "ja-JP", 1},
		{"ja-JP", "JA-jp", 1},
		{"ja-JP", "ko-KR", 0},
		{"ja-JP", "", 1},
	}
	for _, tt := range tests {
		f := NewFeed()
		r, err := f.NewRecognizer(Config{Language: tt.recognizer})
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Start(t.Context()); err != nil {
			t.Fatal(err)
		}
		if got := f.Push("はい", tt.push); got != tt.want {
			t.Errorf("Push(%q) to %q recognizer delivered %d, want %d", tt.push, tt.recognizer, got, tt.want)
		}
		r.Stop()
	}
}

func TestStopReleasesWatcher(t *testing.T) {
	f := NewFeed()
	base := runtime.NumGoroutine()
	// a long-lived context: only Stop can end the watchers
	ctx := t.Context()
	for range 20 {
		r, err := f.NewRecognizer(Config{Language: "ja-JP"})
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Start(ctx); err != nil {
			t.Fatal(err)
		}
		r.Stop()
	}
	if f.Listeners() != 0 {
		t.Fatalf("listeners = %d", f.Listeners())
	}
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > base+2 {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d, started with %d", runtime.NumGoroutine(), base)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
