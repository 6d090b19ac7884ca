// Package browser drives a Chromium tab over the DevTools protocol. A Session
// is both the page model provider and the action backend of the agent.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/config"
)

const (
	defaultActionTimeout     = 10 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	shutdownTimeout          = 5 * time.Second
)

var (
	_ schemas.PageModelProvider = (*Session)(nil)
	_ schemas.ActionBackend     = (*Session)(nil)
)

// Session owns one browser process and its single tab.
type Session struct {
	logger    *zap.Logger
	cfg       config.BrowserConfig
	converter *converter.Converter
	handlers  map[string]actionFunc

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu             sync.Mutex
	lastScreenshot []byte
	closeOnce      sync.Once
}

// ExecOptions translates the browser config into allocator options.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// NewSession launches the browser and opens StartURL when configured. The
// browser lives until Close, independent of ctx.
func NewSession(ctx context.Context, logger *zap.Logger, cfg config.BrowserConfig) (*Session, error) {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = defaultActionTimeout
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}

	s := &Session{
		logger:    logger.Named("browser"),
		cfg:       cfg,
		converter: newMarkdownConverter(),
	}
	s.handlers = s.buildHandlers()

	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), ExecOptions(cfg)...)
	s.tabCtx, s.tabCancel = chromedp.NewContext(s.allocCtx,
		chromedp.WithLogf(s.logger.Sugar().Debugf),
		chromedp.WithErrorf(s.logger.Sugar().Warnf),
	)

	startCtx, cancel := CombineContext(s.tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	s.logger.Info("Browser started", zap.Bool("headless", cfg.Headless))

	if cfg.StartURL != "" {
		res, err := s.Execute(ctx, "navigate", map[string]interface{}{"url": cfg.StartURL})
		if err != nil {
			s.Close()
			return nil, err
		}
		if !res.Success {
			s.logger.Warn("Start URL did not load", zap.String("url", cfg.StartURL), zap.String("error", res.Error))
		}
	}
	return s, nil
}

// operationContext bounds one CDP operation by the caller's context and timeout.
func (s *Session) operationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancelCombined := CombineContext(s.tabCtx, ctx)
	if timeout <= 0 {
		return combined, cancelCombined
	}
	opCtx, cancelTimeout := context.WithTimeout(combined, timeout)
	return opCtx, func() {
		cancelTimeout()
		cancelCombined()
	}
}

// LastScreenshot returns the PNG captured by the most recent take_screenshot.
func (s *Session) LastScreenshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScreenshot
}

// Close shuts the tab and the browser process down. It is safe to call twice.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() {
			if s.tabCtx != nil {
				done <- chromedp.Cancel(s.tabCtx)
				return
			}
			done <- nil
		}()

		select {
		case err = <-done:
			if errors.Is(err, context.Canceled) {
				err = nil
			}
		case <-time.After(shutdownTimeout):
			s.logger.Warn("Browser shutdown timed out, forcing.", zap.Duration("timeout", shutdownTimeout))
		}
		if s.tabCancel != nil {
			s.tabCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
		s.logger.Info("Browser closed")
	})
	return err
}
