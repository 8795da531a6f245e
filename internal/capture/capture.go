// Package capture grabs screenshots of the running preview so persona
// feedback can reference what the screen actually looks like. Capture
// failures are always non-fatal to the caller.
package capture

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"personaut/internal/errs"
)

// Capturer takes a screenshot of url and writes it to outPath as PNG.
type Capturer interface {
	Capture(ctx context.Context, url, outPath string) error
}

// Browser drives a headless Chromium via rod. The zero value is not usable;
// construct with NewBrowser.
type Browser struct {
	settle time.Duration
}

// BrowserOption configures a Browser.
type BrowserOption func(*Browser)

// WithSettleDelay sets how long to wait after load before the shot, giving
// client-side rendering a chance to finish.
func WithSettleDelay(d time.Duration) BrowserOption {
	return func(b *Browser) { b.settle = d }
}

// NewBrowser returns a rod-backed Capturer.
func NewBrowser(opts ...BrowserOption) *Browser {
	b := &Browser{settle: 500 * time.Millisecond}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Capture navigates to url in a fresh headless browser and writes a
// full-page PNG to outPath.
func (b *Browser) Capture(ctx context.Context, url, outPath string) (err error) {
	defer func() {
		// rod panics on launcher and protocol failures.
		if r := recover(); r != nil {
			err = errs.Newf(errs.KindCapture, "capture", "browser failure: %v", r)
		}
	}()

	browser := rod.New().Context(ctx)
	if err := browser.Connect(); err != nil {
		return errs.Wrap(errs.KindCapture, "capture", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return errs.Wrap(errs.KindCapture, "capture", err)
	}
	if err := page.WaitLoad(); err != nil {
		return errs.Wrap(errs.KindCapture, "capture", err)
	}
	select {
	case <-time.After(b.settle):
	case <-ctx.Done():
		return errs.Wrap(errs.KindCapture, "capture", ctx.Err())
	}

	shot, err := page.Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return errs.Wrap(errs.KindCapture, "capture", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return errs.Wrap(errs.KindCapture, "capture", err)
	}
	if err := os.WriteFile(outPath, shot, 0644); err != nil {
		return errs.Wrap(errs.KindCapture, "capture", err)
	}
	return nil
}
