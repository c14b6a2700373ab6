package core

import "encoding/json"

// Source describes how the value in an Envelope was produced.
type Source string

const (
	SourceCache    Source = "cache"
	SourceNetwork  Source = "network"
	SourceFallback Source = "fallback"
	SourceError    Source = "error"
)

// Envelope is the uniform result of a data access call.
//
// A fallback result has Success=true and a populated Error: a usable value was
// produced, but it is not the live one. Callers that need to tell genuine data
// from substituted data must look at Source, not only at Success.
type Envelope[T any] struct {
	Success   bool
	Data      T
	Source    Source
	Error     string
	ErrorKind ErrorKind
	// Attempts holds the classified error of every failed attempt, in order.
	Attempts []ParsedError
}

// FromCache wraps a value served from the cache.
func FromCache[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data, Source: SourceCache}
}

// FromNetwork wraps a value produced by a live call.
func FromNetwork[T any](data T) Envelope[T] {
	return Envelope[T]{Success: true, Data: data, Source: SourceNetwork}
}

// FromFallback wraps a substitute value together with the reason live
// retrieval did not produce one.
func FromFallback[T any](data T, reason string) Envelope[T] {
	return Envelope[T]{Success: true, Data: data, Source: SourceFallback, Error: reason}
}

// Failure builds an envelope for a call that produced no usable value.
func Failure[T any](kind ErrorKind, message string) Envelope[T] {
	return Envelope[T]{Success: false, Source: SourceError, Error: message, ErrorKind: kind}
}

// Substituted reports whether the data is a fallback value.
func (e Envelope[T]) Substituted() bool {
	return e.Source == SourceFallback
}

type envelopeJSON struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Source    Source        `json:"source"`
	Error     string        `json:"error,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Attempts  []ParsedError `json:"attempts,omitempty"`
}

// MarshalJSON omits data on failed envelopes.
func (e Envelope[T]) MarshalJSON() ([]byte, error) {
	out := envelopeJSON{
		Success:   e.Success,
		Source:    e.Source,
		Error:     e.Error,
		ErrorKind: e.ErrorKind,
		Attempts:  e.Attempts,
	}
	if e.Success {
		out.Data = e.Data
	}
	return json.Marshal(out)
}
