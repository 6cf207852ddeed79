package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chromedp/chromedp"
)

// Login opens a visible browser for the user to log in to the host
// application manually. After login, cookies are saved in the profile
// directory and later headless sessions reuse them.
func Login(ctx context.Context, profileDir, url string, logger *slog.Logger) error {
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.UserAgent(sessionUserAgent),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	if err := chromedp.Run(taskCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}

	logger.Info("browser opened. Please log in manually. Press Ctrl+C when done.")
	<-ctx.Done()

	logger.Info("login session saved", "profile", profileDir)
	return nil
}
