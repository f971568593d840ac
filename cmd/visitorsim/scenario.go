package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brightensolutions/brightensolutions-sub000/pkg/tracking"
)

// Scenario is one scripted page load and what the visitor does afterwards.
type Scenario struct {
	UserAgent string          `json:"userAgent"`
	Screen    tracking.Screen `json:"screen"`
	Referrer  string          `json:"referrer"`
	Path      string          `json:"path"`
	Title     string          `json:"title"`
	Steps     []Step          `json:"steps"`
}

type Step struct {
	Action   string                `json:"action"`
	Path     string                `json:"path,omitempty"`
	Title    string                `json:"title,omitempty"`
	Granted  bool                  `json:"granted,omitempty"`
	Contact  *tracking.ContactInfo `json:"contact,omitempty"`
	Duration string                `json:"duration,omitempty"`
	Cookie   string                `json:"cookie,omitempty"`

	wait time.Duration
}

const (
	ActionNavigate = "navigate"
	ActionHide     = "hide"
	ActionShow     = "show"
	ActionConsent  = "consent"
	ActionContact  = "contact"
	ActionCookie   = "cookie"
	ActionWait     = "wait"
	ActionUnload   = "unload"
)

func LoadScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}
	if s.Path == "" {
		s.Path = "/"
	}
	for i := range s.Steps {
		if err := s.Steps[i].validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &s, nil
}

func (st *Step) validate() error {
	switch st.Action {
	case ActionNavigate:
		if st.Path == "" {
			return fmt.Errorf("%s needs a path", st.Action)
		}
	case ActionContact:
		if st.Contact == nil {
			return fmt.Errorf("%s needs contact details", st.Action)
		}
	case ActionCookie:
		if st.Cookie == "" {
			return fmt.Errorf("%s needs a cookie assignment", st.Action)
		}
	case ActionWait:
		d, err := time.ParseDuration(st.Duration)
		if err != nil || d < 0 {
			return fmt.Errorf("%s needs a non-negative duration, got %q", st.Action, st.Duration)
		}
		st.wait = d
	case ActionHide, ActionShow, ActionConsent, ActionUnload:
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
	return nil
}

// Player replays scenario steps against one tracker. Sleep decides how wait
// steps pass: real time or a virtual clock.
type Player struct {
	Env     *tracking.StaticEnvironment
	Tracker *tracking.Tracker
	Sleep   func(ctx context.Context, d time.Duration) error
}

func (p *Player) Play(ctx context.Context, steps []Step) error {
	for i, st := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch st.Action {
		case ActionNavigate:
			p.Env.Navigate(st.Path, st.Title)
			p.Tracker.HandleNavigation()
		case ActionHide:
			p.Tracker.HandleVisibilityChange(true)
		case ActionShow:
			p.Tracker.HandleVisibilityChange(false)
		case ActionConsent:
			p.Tracker.SetConsent(st.Granted)
		case ActionContact:
			p.Tracker.SetContactInfo(*st.Contact)
		case ActionCookie:
			if err := p.Env.CookieStore.SetCookie(st.Cookie); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		case ActionWait:
			if err := p.Sleep(ctx, st.wait); err != nil {
				return err
			}
		case ActionUnload:
			p.Tracker.HandleBeforeUnload()
		}
	}
	return nil
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// virtualClock lets wait steps pass instantly while dwell time still accrues.
type virtualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newVirtualClock(start time.Time) *virtualClock {
	return &virtualClock{now: start}
}

func (c *virtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *virtualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return ctx.Err()
}
