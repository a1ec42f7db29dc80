// Package browser drives one headless Chromium page for the agent: page
// navigation, text extraction, and screenshots. The browser process starts
// lazily on first use and is shared by every call.
package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	opTimeout = 30 * time.Second

	// maxScreenshotPx bounds the longer screenshot edge so chat transports
	// accept the file without their own downscaling.
	maxScreenshotPx = 1280
)

// Browser owns a single headless page. All operations serialise on one
// mutex; the agent loop calls tools one at a time anyway.
type Browser struct {
	mu       sync.Mutex
	mediaDir string
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
}

// New creates a browser that writes screenshots under mediaDir. No process
// is started until the first operation.
func New(mediaDir string) *Browser {
	return &Browser{mediaDir: mediaDir}
}

// ensurePage launches Chromium on first use. Caller holds mu.
func (b *Browser) ensurePage() (*rod.Page, error) {
	if b.page != nil {
		return b.page, nil
	}

	l := launcher.New().Headless(true)
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	br := rod.New().ControlURL(u)
	if err := br.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	page, err := br.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		br.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	b.launcher = l
	b.browser = br
	b.page = page
	return page, nil
}

// Goto navigates to url and waits for the load event. Returns the page
// title, best effort.
func (b *Browser) Goto(ctx context.Context, url string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page, err := b.ensurePage()
	if err != nil {
		return "", err
	}

	p := page.Context(ctx).Timeout(opTimeout)
	if err := p.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}

	info, err := p.Info()
	if err != nil {
		return "", nil
	}
	return info.Title, nil
}

// Text returns the visible text of the current page, or of the first node
// matching selector when one is given.
func (b *Browser) Text(ctx context.Context, selector string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page, err := b.ensurePage()
	if err != nil {
		return "", err
	}

	p := page.Context(ctx).Timeout(opTimeout)
	if selector != "" {
		el, err := p.Element(selector)
		if err != nil {
			return "", fmt.Errorf("find %q: %w", selector, err)
		}
		return el.Text()
	}

	res, err := p.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return res.Value.Str(), nil
}

// Screenshot captures the current viewport, downscales it to fit the size
// bound, and writes a PNG under the media directory. Returns the file path.
func (b *Browser) Screenshot(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page, err := b.ensurePage()
	if err != nil {
		return "", err
	}

	p := page.Context(ctx).Timeout(opTimeout)
	bin, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(bin))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}
	img = downscale(img)

	if err := os.MkdirAll(b.mediaDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(b.mediaDir, fmt.Sprintf("screenshot_%d.png", time.Now().UnixMilli()))
	if err := imaging.Save(img, path); err != nil {
		return "", fmt.Errorf("save screenshot: %w", err)
	}
	return path, nil
}

// Close shuts the browser process down. Safe without a prior start and
// safe to call twice.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
		b.page = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
}

// downscale fits the image inside the screenshot bound, preserving aspect
// ratio and never upscaling.
func downscale(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= maxScreenshotPx && bounds.Dy() <= maxScreenshotPx {
		return img
	}
	return imaging.Fit(img, maxScreenshotPx, maxScreenshotPx, imaging.Lanczos)
}
