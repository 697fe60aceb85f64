// Package render drives a headless browser for pages that only exist
// after JavaScript runs. The exported Renderer interface keeps the rest
// of the engine buildable and testable without Chrome.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors returned by renderers.
var (
	ErrEmptyDocument = errors.New("rendered document is empty")
)

// Page action types.
const (
	ActionClick    = "click"
	ActionScroll   = "scroll"
	ActionWait     = "wait"
	ActionEvaluate = "evaluate"
)

// PageAction is one scripted interaction run after the page settles and
// before capture. Each action is best-effort.
type PageAction struct {
	Type string `json:"type"`
	// click: CSS selector of the element to click.
	Selector string `json:"selector,omitempty"`
	// evaluate: JavaScript to run in the page.
	Script string `json:"script,omitempty"`
	// wait: pause duration, e.g. "500ms".
	Duration Duration `json:"duration,omitempty"`
}

// Duration accepts either a Go duration string ("500ms") or a number of
// milliseconds in JSON.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}

		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}

		*d = Duration(parsed)

		return nil
	}

	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}

	*d = Duration(time.Duration(ms) * time.Millisecond)

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Options tune one render.
type Options struct {
	UserAgent string
	Proxy     string
	Headers   map[string]string
	Timeout   time.Duration
	// ExpandContent clicks through collapsed sections (accordion
	// toggles, details elements) before capturing HTML.
	ExpandContent bool
	// PageActions run in order after the settle phases.
	PageActions []PageAction
}

// Renderer loads a page in a browser and returns its final HTML.
type Renderer interface {
	Render(ctx context.Context, url string, opts Options) (string, error)
	Close() error
}
