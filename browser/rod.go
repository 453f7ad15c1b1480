package browser

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/certflow/certflow/errors"
)

// Options configures a rod-backed session.
type Options struct {
	Headless      bool
	UserDataDir   string
	NavTimeout    time.Duration
	ActionTimeout time.Duration
}

// RodSession drives a Chromium page through go-rod. One session per course
// task; the user data dir keeps cookies private to the task.
type RodSession struct {
	opts     Options
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	logger   *zap.SugaredLogger
	closed   bool
}

var _ Session = (*RodSession)(nil)

// NewRodSession launches a browser and opens a blank page.
func NewRodSession(opts Options, log *zap.SugaredLogger) (*RodSession, error) {
	if opts.NavTimeout == 0 {
		opts.NavTimeout = 30 * time.Second
	}
	if opts.ActionTimeout == 0 {
		opts.ActionTimeout = 5 * time.Second
	}

	l := launcher.New().
		Set("disable-blink-features", "AutomationControlled").
		Set("no-first-run").
		Set("no-default-browser-check").
		// Course videos must start without a user gesture
		Set("autoplay-policy", "no-user-gesture-required").
		Headless(opts.Headless)
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.Wrap(err, "failed to launch browser")
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to browser")
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		b.Close()
		return nil, errors.Wrap(err, "failed to open page")
	}

	if log != nil {
		log.Infow("Browser session started",
			"headless", opts.Headless,
			"user_data_dir", opts.UserDataDir,
		)
	}

	return &RodSession{
		opts:     opts,
		launcher: l,
		browser:  b,
		page:     page,
		logger:   log,
	}, nil
}

// Navigate loads url and waits for the page load event.
func (s *RodSession) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.opts.NavTimeout)
	if err := page.Navigate(url); err != nil {
		return classify(err, "navigate %s", url)
	}
	if err := page.WaitLoad(); err != nil {
		return classify(err, "wait load %s", url)
	}
	return nil
}

// Click locates selector and clicks it.
func (s *RodSession) Click(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return classify(err, "click %s", selector)
	}
	return nil
}

// Fill locates selector and types value into it, replacing prior content.
func (s *RodSession) Fill(ctx context.Context, selector string, value string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return classify(err, "select text in %s", selector)
	}
	if err := el.Input(value); err != nil {
		return classify(err, "fill %s", selector)
	}
	return nil
}

// WaitVisible blocks until selector is visible or the action timeout expires.
func (s *RodSession) WaitVisible(ctx context.Context, selector string) error {
	el, err := s.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return classify(err, "wait visible %s", selector)
	}
	return nil
}

// Screenshot captures the current viewport as a decoded frame.
func (s *RodSession) Screenshot(ctx context.Context) (image.Image, error) {
	page := s.page.Context(ctx).Timeout(s.opts.ActionTimeout)
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, classify(err, "screenshot")
	}
	frame, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decode screenshot")
	}
	return frame, nil
}

// CurrentURL reports the page's current location.
func (s *RodSession) CurrentURL(ctx context.Context) (string, error) {
	page := s.page.Context(ctx).Timeout(s.opts.ActionTimeout)
	info, err := page.Info()
	if err != nil {
		return "", classify(err, "page info")
	}
	return info.URL, nil
}

// Close tears the session down. Safe to call more than once.
func (s *RodSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.browser.Close()
	// Cleanup removes the temp profile when no user data dir was configured
	if s.opts.UserDataDir == "" {
		s.launcher.Cleanup()
	}
	if err != nil {
		return errors.Wrap(err, "close browser")
	}
	return nil
}

func (s *RodSession) element(ctx context.Context, selector string) (*rod.Element, error) {
	page := s.page.Context(ctx).Timeout(s.opts.ActionTimeout)
	el, err := page.Element(selector)
	if err != nil {
		return nil, classify(err, "find %s", selector)
	}
	return el, nil
}

// classify converts rod/driver failures into the session's typed errors, each
// carrying the failure kind the retry layer routes on.
func classify(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, format, args...)

	var notFound *rod.ElementNotFoundError
	switch {
	case errors.As(err, &notFound):
		return errors.WithKind(errors.Mark(err, ErrNotFound), errors.KindTransientUI)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.WithKind(errors.Mark(err, ErrTimeout), errors.KindTimeout)
	case isConnectionLost(err):
		return errors.WithKind(errors.Mark(err, ErrCrashed), errors.KindUnavailable)
	}
	return errors.WithKind(err, errors.KindTransientUI)
}

// isConnectionLost detects a dead browser process. The cdp transport surfaces
// this as raw websocket/connection errors we cannot match by type.
func isConnectionLost(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "context canceled") && strings.Contains(msg, "cdp")
}
