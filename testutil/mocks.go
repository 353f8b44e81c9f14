package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/chatlens/translator"
)

// MockTranslation is a canned gtx answer.
type MockTranslation struct {
	Text     string
	Detected string
}

// MockTranslateServer mocks the gtx translate endpoint.
type MockTranslateServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses map[string]MockTranslation
	queries   []url.Values
	status    int
	hold      chan struct{}
}

// NewMockTranslateServer starts a mock endpoint. Unknown texts are echoed
// back upper-cased with "en" as the detected language.
func NewMockTranslateServer(t *testing.T) *MockTranslateServer {
	t.Helper()
	m := &MockTranslateServer{responses: make(map[string]MockTranslation)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.Close)
	return m
}

// URL returns the endpoint URL to hand to the client.
func (m *MockTranslateServer) URL() string { return m.Server.URL + "/translate_a/single" }

// SetTranslation registers the answer for q.
func (m *MockTranslateServer) SetTranslation(q, text, detected string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[q] = MockTranslation{Text: text, Detected: detected}
}

// FailWith makes every request answer with status (0 restores success).
func (m *MockTranslateServer) FailWith(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Hold blocks requests until the returned release func is called.
func (m *MockTranslateServer) Hold() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.hold = ch
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.hold == ch {
				m.hold = nil
			}
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns the number of requests seen.
func (m *MockTranslateServer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queries)
}

// LastQuery returns the query of the latest request.
func (m *MockTranslateServer) LastQuery() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queries) == 0 {
		return nil
	}
	return m.queries[len(m.queries)-1]
}

func (m *MockTranslateServer) serve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	m.mu.Lock()
	m.queries = append(m.queries, q)
	status := m.status
	hold := m.hold
	resp, ok := m.responses[q.Get("q")]
	m.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if !ok {
		resp = MockTranslation{Text: fmt.Sprintf("[%s]", q.Get("q")), Detected: "en"}
	}
	body := []any{
		[]any{[]any{resp.Text, q.Get("q"), nil, nil, 1}},
		nil,
		resp.Detected,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body) //nolint:errcheck // test mock response
}

// StubCall records one Translate invocation. Err is the context error seen
// when a canceled call returned.
type StubCall struct {
	Text   string
	Target string
	Source string
	Err    error
}

type stubEntry struct {
	StubCall
	ctx context.Context
	// priorDone[i] is whether call i's context had ended when this call began
	priorDone []bool
}

// StubTranslator is an in-memory translator.Translator for orchestrator
// tests. Texts without a registered answer translate to themselves with the
// source hint as detected language.
type StubTranslator struct {
	mu        sync.Mutex
	results   map[string]translator.Result
	errs      map[string]error
	gates     map[string]chan struct{}
	calls     []*stubEntry
	cleared   int
	clearGate chan struct{}
	notify    chan struct{}
}

// NewStubTranslator returns an empty stub.
func NewStubTranslator() *StubTranslator {
	return &StubTranslator{
		results: make(map[string]translator.Result),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Set registers the result for text.
func (s *StubTranslator) Set(text string, res translator.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[text] = res
}

// Fail makes calls for text return err.
func (s *StubTranslator) Fail(text string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[text] = err
}

// Block holds calls for text until release is called or their context ends.
func (s *StubTranslator) Block(text string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[text] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[text] == ch {
				delete(s.gates, text)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// BlockClear holds ClearCache until release is called or its context ends.
func (s *StubTranslator) BlockClear() (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.clearGate = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.clearGate == ch {
				s.clearGate = nil
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Translate implements translator.Translator.
func (s *StubTranslator) Translate(ctx context.Context, text, target, sourceHint string) (translator.Result, error) {
	if sourceHint == "" {
		sourceHint = translator.AutoDetect
	}
	s.mu.Lock()
	entry := &stubEntry{StubCall: StubCall{Text: text, Target: target, Source: sourceHint}, ctx: ctx}
	for _, prev := range s.calls {
		entry.priorDone = append(entry.priorDone, prev.ctx.Err() != nil)
	}
	s.calls = append(s.calls, entry)
	gate := s.gates[text]
	res, hasRes := s.results[text]
	err := s.errs[text]
	s.mu.Unlock()
	s.signal()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.mu.Lock()
		entry.Err = ctxErr
		s.mu.Unlock()
		s.signal()
		return translator.Result{}, fmt.Errorf("%w: %w", translator.ErrCanceled, ctxErr)
	}
	if err != nil {
		return translator.Result{}, err
	}
	if !hasRes {
		res = translator.Result{TranslatedText: text, DetectedSourceLanguage: sourceHint}
	}
	return res, nil
}

// ClearCache implements translator.Translator.
func (s *StubTranslator) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	gate := s.clearGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.cleared++
	s.mu.Unlock()
	s.signal()
	return nil
}

func (s *StubTranslator) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Calls returns a copy of the recorded calls.
func (s *StubTranslator) Calls() []StubCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StubCall, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.StubCall
	}
	return out
}

// CanceledBefore reports whether the context of call i had already ended
// when call j started.
func (s *StubTranslator) CanceledBefore(i, j int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j >= len(s.calls) || i >= len(s.calls[j].priorDone) {
		return false
	}
	return s.calls[j].priorDone[i]
}

// Cleared returns how often ClearCache completed.
func (s *StubTranslator) Cleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

// WaitCleared waits until ClearCache completed at least n times.
func (s *StubTranslator) WaitCleared(n int, timeout time.Duration) bool {
	return s.waitFor(func() bool { return s.Cleared() >= n }, timeout)
}

// WaitCanceled waits until call i returned because its context ended.
func (s *StubTranslator) WaitCanceled(i int, timeout time.Duration) bool {
	return s.waitFor(func() bool {
		calls := s.Calls()
		return i < len(calls) && calls[i].Err != nil
	}, timeout)
}

// WaitCalls waits until at least n calls were recorded.
func (s *StubTranslator) WaitCalls(n int, timeout time.Duration) bool {
	return s.waitFor(func() bool { return len(s.Calls()) >= n }, timeout)
}

func (s *StubTranslator) waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if cond() {
			return true
		}
		select {
		case <-s.notify:
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}
