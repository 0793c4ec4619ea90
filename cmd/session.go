package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"vodgrab/internal/browser"
	"vodgrab/internal/config"
	"vodgrab/internal/discovery"
	"vodgrab/internal/extract"
	"vodgrab/internal/intercept"
)

// browserStack is the single browser session and the components built on it.
type browserStack struct {
	lock    *flock.Flock
	session *browser.RodSession
	nav     *browser.Navigator
	disc    *discovery.Discoverer
}

// openBrowser takes the run lock and launches the browser. Only one vodgrab
// process may drive a browser session at a time.
func openBrowser(ctx context.Context) (*browserStack, error) {
	lockPath, err := config.LockPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another vodgrab run holds %s", lockPath)
	}

	sess, err := browser.Launch(ctx, browser.Options{
		Bin:               cfg.Browser.Bin,
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: cfg.Browser.NavigationTimeout.Duration,
		Logger:            logger,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	icpt, err := intercept.New(sess, cfg.Intercept.Extensions, logger)
	if err != nil {
		_ = sess.Close()
		_ = lock.Unlock()
		return nil, err
	}
	nav := browser.NewNavigator(sess, logger)
	disc := discovery.New(nav, icpt, extract.New(cfg.Extract.Variable), discovery.Options{
		SettleDelay:    cfg.Browser.SettleDelay.Duration,
		ShortWindow:    cfg.Browser.ShortWindow.Duration,
		ExtendedWindow: cfg.Browser.ExtendedWindow.Duration,
		BaseOrigin:     cfg.Extract.BaseOrigin,
	}, logger)

	return &browserStack{lock: lock, session: sess, nav: nav, disc: disc}, nil
}

// Close shuts the browser and releases the run lock.
func (b *browserStack) Close() error {
	var errs []error
	if err := b.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing browser: %w", err))
	}
	if err := b.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		logger.Warn("browser shutdown", zap.Error(err))
		return err
	}
	return nil
}
