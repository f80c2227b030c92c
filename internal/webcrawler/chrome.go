package webcrawler

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// ChromeFetcher renders pages in headless Chrome so script-built content is
// visible to the extractor.
type ChromeFetcher struct{}

// Fetch navigates to pageURL and returns the rendered outer HTML.
func (ChromeFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, WaitTimeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}

var _ Fetcher = ChromeFetcher{}
