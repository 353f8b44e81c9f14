// Package translator performs cached, cancellable text translation calls.
package translator

import (
	"context"
	"errors"
	"fmt"
)

// AutoDetect is the source hint that asks the service to detect the language.
const AutoDetect = "auto"

// Result is a translated text and the source language the service detected.
type Result struct {
	TranslatedText         string `json:"translatedText"`
	DetectedSourceLanguage string `json:"detectedSourceLanguage"`
}

// Translator is the contract the orchestrator consumes.
type Translator interface {
	// Translate returns the translation of text into target. Blank text
	// yields an empty result without a network call. Cancellation of ctx
	// surfaces as an error matching ErrCanceled.
	Translate(ctx context.Context, text, target, sourceHint string) (Result, error)
	// ClearCache drops every cached result.
	ClearCache(ctx context.Context) error
}

var (
	// ErrCanceled marks a call that ended because its context was canceled.
	// Callers treat it as a no-op, never as a failure.
	ErrCanceled = errors.New("translation canceled")
	// ErrDecode marks a response body that could not be parsed.
	ErrDecode = errors.New("decode translation response")
)

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("translation request failed: %d", e.StatusCode)
}

// ErrorKind classifies translation errors for logs and metrics.
type ErrorKind string

const (
	KindNone      ErrorKind = "ok"
	KindCanceled  ErrorKind = "canceled"
	KindStatus    ErrorKind = "status"
	KindTransport ErrorKind = "transport"
	KindDecode    ErrorKind = "decode"
)

// Classify maps an error returned by Translate to its kind.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if IsCanceled(err) {
		return KindCanceled
	}
	var se *StatusError
	if errors.As(err, &se) {
		return KindStatus
	}
	if errors.Is(err, ErrDecode) {
		return KindDecode
	}
	return KindTransport
}

// IsCanceled reports whether err is a cancellation outcome.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

func canceled(cause error) error {
	if cause == nil {
		return ErrCanceled
	}
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// Key identifies a cached translation.
type Key struct {
	Source string
	Target string
	Text   string
}

func (k Key) String() string {
	return k.Source + ":" + k.Target + ":" + k.Text
}
