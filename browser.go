package main

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserSession is the capability surface the portal workflow drives. The
// production implementation wraps a Chrome page; tests substitute a fake.
type BrowserSession interface {
	Navigate(url string) error
	Fill(selector, value string) error
	Click(selector string) error
	SelectValue(selector, value string) error
	SelectByLabel(selector, label string) error
	Upload(selector, filePath string) error
	WaitVisible(selector string) error
	Exists(selector string) bool
	Visible(selector string) bool
	IsChecked(selector string) (bool, error)
	Check(selector string) error
	CurrentURL() string
	ContainsText(text string) bool
	Close() error
}

type rodSession struct {
	browser *rod.Browser
	page    *rod.Page
	timeout time.Duration
}

// NewRodSession launches a Chrome instance and opens a blank page sized for
// the portal's desktop layout.
func NewRodSession(cfg Config) (BrowserSession, error) {
	controlURL, err := launcher.New().Headless(cfg.PortalHeadless).Launch()
	if err != nil {
		return nil, fmt.Errorf("launching chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("opening page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		log.Printf("browser viewport override failed: %v", err)
	}

	return &rodSession{browser: browser, page: page, timeout: cfg.PortalTimeout()}, nil
}

func (s *rodSession) element(selector string) (*rod.Element, error) {
	el, err := s.page.Timeout(s.timeout).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el, nil
}

func (s *rodSession) Navigate(url string) error {
	if err := s.page.Timeout(s.timeout).Navigate(url); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return s.page.Timeout(s.timeout).WaitLoad()
}

func (s *rodSession) Fill(selector, value string) error {
	el, err := s.element(selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err == nil {
		_ = el.Input("")
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("filling %q: %w", selector, err)
	}
	return nil
}

func (s *rodSession) Click(selector string) error {
	el, err := s.element(selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}
	return nil
}

func (s *rodSession) SelectValue(selector, value string) error {
	_, err := s.page.Timeout(s.timeout).Evaluate(&rod.EvalOptions{
		JS: `(sel, val) => {
			const el = document.querySelector(sel);
			if (!el) throw new Error('select not found: ' + sel);
			el.value = val;
			el.dispatchEvent(new Event('change', { bubbles: true }));
		}`,
		JSArgs:  []interface{}{selector, value},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("selecting value %q on %q: %w", value, selector, err)
	}
	return nil
}

func (s *rodSession) SelectByLabel(selector, label string) error {
	el, err := s.element(selector)
	if err != nil {
		return err
	}
	if err := el.Select([]string{label}, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("selecting label %q on %q: %w", label, selector, err)
	}
	return nil
}

func (s *rodSession) Upload(selector, filePath string) error {
	el, err := s.element(selector)
	if err != nil {
		return err
	}
	if err := el.SetFiles([]string{filePath}); err != nil {
		return fmt.Errorf("uploading %s via %q: %w", filePath, selector, err)
	}
	return nil
}

func (s *rodSession) WaitVisible(selector string) error {
	el, err := s.element(selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("waiting for %q: %w", selector, err)
	}
	return nil
}

func (s *rodSession) Exists(selector string) bool {
	has, _, err := s.page.Has(selector)
	return err == nil && has
}

func (s *rodSession) Visible(selector string) bool {
	has, el, err := s.page.Has(selector)
	if err != nil || !has {
		return false
	}
	visible, err := el.Visible()
	return err == nil && visible
}

func (s *rodSession) IsChecked(selector string) (bool, error) {
	el, err := s.element(selector)
	if err != nil {
		return false, err
	}
	prop, err := el.Property("checked")
	if err != nil {
		return false, fmt.Errorf("reading checked state of %q: %w", selector, err)
	}
	return prop.Bool(), nil
}

func (s *rodSession) Check(selector string) error {
	checked, err := s.IsChecked(selector)
	if err != nil {
		return err
	}
	if checked {
		return nil
	}
	return s.Click(selector)
}

func (s *rodSession) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (s *rodSession) ContainsText(text string) bool {
	res, err := s.page.Timeout(s.timeout).Evaluate(&rod.EvalOptions{
		JS:      `() => document.body ? document.body.innerText : ""`,
		ByValue: true,
	})
	if err != nil || res == nil {
		return false
	}
	return strings.Contains(res.Value.Str(), text)
}

func (s *rodSession) Close() error {
	if s.page != nil {
		_ = s.page.Close()
	}
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// Locator is an ordered list of selector strategies for one logical control.
// The portal markup has shifted between releases, so each control keeps every
// selector that has ever matched it, newest first.
type Locator []string

// Resolve returns the first selector with a visible match. Falls back to the
// first merely-existing selector so error messages name a concrete control.
func (l Locator) Resolve(s BrowserSession) (string, error) {
	for _, sel := range l {
		if s.Visible(sel) {
			return sel, nil
		}
	}
	for _, sel := range l {
		if s.Exists(sel) {
			return sel, nil
		}
	}
	return "", fmt.Errorf("no selector matched: %s", strings.Join(l, ", "))
}

// Signal is one observable hint that a portal action took effect.
type Signal struct {
	Name  string
	Check func() bool
}

// SuccessPolicy decides whether a step's effect is observable. The policy
// name in the result feeds step diagnostics.
type SuccessPolicy interface {
	Satisfied() (ok bool, detail string)
}

// AnySignal succeeds when at least one signal fires. Used where the portal
// exposes several alternative markers and any one of them is proof enough.
type AnySignal []Signal

func (p AnySignal) Satisfied() (bool, string) {
	for _, sig := range p {
		if sig.Check() {
			return true, sig.Name
		}
	}
	return false, "no signal observed"
}

// AllSignals succeeds only when every signal fires.
type AllSignals []Signal

func (p AllSignals) Satisfied() (bool, string) {
	for _, sig := range p {
		if !sig.Check() {
			return false, "missing signal: " + sig.Name
		}
	}
	return true, "all signals observed"
}

// TimedPoll re-evaluates its signals on a fixed interval for a bounded number
// of attempts. The portal gives no completion callback for CSV processing, so
// this is as strong as the success guarantee gets.
type TimedPoll struct {
	Signals     AnySignal
	Interval    time.Duration
	MaxAttempts int
	sleep       func(time.Duration)
}

func (p TimedPoll) Satisfied() (bool, string) {
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ok, detail := p.Signals.Satisfied(); ok {
			return true, fmt.Sprintf("%s (attempt %d)", detail, attempt)
		}
		if attempt < p.MaxAttempts {
			sleep(p.Interval)
		}
	}
	return false, fmt.Sprintf("no signal after %d attempts", p.MaxAttempts)
}
