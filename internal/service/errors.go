package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/subvert/pkg/log"
)

type ErrorType int

const (
	// ErrNotApplicable: the scene's file is not a recognized video. Skipped, no mutation.
	ErrNotApplicable ErrorType = iota
	// ErrResolution: no local or downloadable file. Skipped, no mutation.
	ErrResolution
	// ErrProbe: ffmpeg could not list the streams. Finalize still runs.
	ErrProbe
	// ErrExtraction: one track failed. Remaining tracks are abandoned, finalize still runs.
	ErrExtraction
	// ErrPersist: the tag write failed. Nothing is rolled back.
	ErrPersist
	// ErrPageFetch: a catalog page could not be read. Ends the walk.
	ErrPageFetch
	ErrConfig
	ErrUnknown
)

type SubvertError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *SubvertError {
	return &SubvertError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *SubvertError {
	return &SubvertError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *SubvertError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *SubvertError) Unwrap() error {
	return e.Cause
}

func (e *SubvertError) WithContext(key string, value any) *SubvertError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrNotApplicable:
		return "NotApplicable"
	case ErrResolution:
		return "ResolutionFailure"
	case ErrProbe:
		return "ProbeFailure"
	case ErrExtraction:
		return "ExtractionFailure"
	case ErrPersist:
		return "PersistFailure"
	case ErrPageFetch:
		return "PageFetchFailure"
	case ErrConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *SubvertError) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

func (h *DefaultErrorHandler) Handle(err error) bool {
	var subErr *SubvertError
	if !errors.As(err, &subErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	log.Error("Error Detail: %v\n advice: %s", err, h.GetAdvice(subErr))
	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err *SubvertError) string {
	switch err.Type {
	case ErrNotApplicable:
		return "The scene's file is not a video container; nothing to do"
	case ErrResolution:
		return "Make sure the media library is mounted at the paths Stash reports, or that the stream URL is reachable"
	case ErrProbe:
		return "Check that FFMPEG_PATH points at a working ffmpeg and that the file is readable"
	case ErrExtraction:
		return "Image-based subtitles (PGS, VobSub) cannot be converted to SRT; the scene will be retried on the next pass"
	case ErrPersist:
		return "Check the Stash API key and that SUBTITLE_TAG_ID names an existing tag"
	case ErrPageFetch:
		return "Check STASH_URL and credentials; the walk stopped and already tagged scenes are kept"
	case ErrConfig:
		return "Please check that configuration files or environment variables are set correctly"
	default:
		return "Please review detailed error information and check relevant configuration and files"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var subErr *SubvertError
	if errors.As(err, &subErr) {
		return subErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *SubvertError {
	return NewErrorWithCause(errorType, message, err)
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
