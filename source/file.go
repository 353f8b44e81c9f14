// Package source fills the page document from a host: an HTML snapshot on
// disk or a live Twitch channel.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/net/html"

	"github.com/onnwee/chatlens/dom"
	"github.com/onnwee/chatlens/page"
)

// LocationMeta names the meta tag whose content becomes the page location.
const LocationMeta = "location"

// RectAttr carries "left,top,width,height" layout for an element in a snapshot.
const RectAttr = "data-rect"

const defaultDebounce = 200 * time.Millisecond

var (
	locationSel = dom.MustCompile(`meta[name="` + LocationMeta + `"]`)
	rectSel     = dom.MustCompile(`[` + RectAttr + `]`)
)

// FileSource mirrors an HTML snapshot into the page body and reloads it when
// the file changes.
type FileSource struct {
	Path     string
	Debounce time.Duration
}

// NewFileSource returns a source for the snapshot at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, Debounce: defaultDebounce}
}

// Snapshot is a parsed page file.
type Snapshot struct {
	Body     []*html.Node
	Location string
	Rects    map[*html.Node]dom.Rect
}

// ReadSnapshot parses the file at path.
func ReadSnapshot(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("open page file: %w", err)
	}
	defer f.Close()
	parsed, err := dom.Parse(f)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse page file: %w", err)
	}

	snap := Snapshot{Rects: make(map[*html.Node]dom.Rect)}
	if meta := locationSel.QueryFirst(parsed.Root()); meta != nil {
		snap.Location = strings.TrimSpace(dom.AttrValue(meta, "content"))
	}
	for _, n := range rectSel.QueryAll(parsed.Root()) {
		if r, ok := parseRect(dom.AttrValue(n, RectAttr)); ok {
			snap.Rects[n] = r
		}
	}
	if body := parsed.Body(); body != nil {
		for c := body.FirstChild; c != nil; {
			next := c.NextSibling
			body.RemoveChild(c)
			snap.Body = append(snap.Body, c)
			c = next
		}
	}
	return snap, nil
}

func parseRect(v string) (dom.Rect, bool) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return dom.Rect{}, false
	}
	var f [4]float64
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dom.Rect{}, false
		}
		f[i] = x
	}
	return dom.Rect{Left: f[0], Top: f[1], Width: f[2], Height: f[3]}, true
}

// Apply installs a snapshot on the page. It must run on the page loop.
func Apply(p *page.Page, snap Snapshot) {
	doc := p.Document()
	body := doc.Body()
	if body == nil {
		return
	}
	doc.ReplaceChildren(body, snap.Body...)
	for n, r := range snap.Rects {
		doc.SetRect(n, r)
	}
	if snap.Location != "" && snap.Location != p.Location() {
		p.Navigate(snap.Location)
	}
}

// Load reads the file once and applies it on the page loop.
func (s *FileSource) Load(ctx context.Context, p *page.Page) error {
	snap, err := ReadSnapshot(s.Path)
	if err != nil {
		return err
	}
	if err := p.Call(ctx, func() { Apply(p, snap) }); err != nil {
		return err
	}
	slog.Info("page file loaded",
		slog.String("path", s.Path),
		slog.String("location", snap.Location),
		slog.String("component", "source"))
	return nil
}

// Run loads the file and reloads it on every change until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (s *FileSource) Run(ctx context.Context, p *page.Page) error {
	if err := s.Load(ctx, p); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	target := filepath.Clean(s.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	debounce := s.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("page file watch error", slog.Any("err", err), slog.String("component", "source"))
		case <-timer.C:
			if err := s.Load(ctx, p); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Warn("page file reload failed", slog.Any("err", err), slog.String("component", "source"))
			}
		}
	}
}
