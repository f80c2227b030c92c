// Package webcrawler implements the WEBCRAWLER track: render the requested
// URL, isolate the readable article, convert it to markdown, and store it
// under the document prefix for the segment builder.
package webcrawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"

	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/queue"
	"docstream/internal/workflow"
)

// ContentKey is where crawled markdown lands relative to the document
// directory.
const ContentKey = "webcrawler/content.md"

// Fetcher renders a URL to HTML. The production implementation drives a
// headless browser; tests substitute a static fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Crawler consumes webcrawler track messages.
type Crawler struct {
	fetcher Fetcher
	objects objectstore.ObjectStore
	store   workflow.Store
}

// New creates a Crawler.
func New(fetcher Fetcher, objects objectstore.ObjectStore, store workflow.Store) *Crawler {
	return &Crawler{fetcher: fetcher, objects: objects, store: store}
}

// Handle processes one webcrawler queue message: fetch, extract, convert,
// store, and mark the WEBCRAWLER step. Fetch and conversion failures mark the
// step FAILED and are permanent — re-crawling the same broken URL will not
// recover inside the queue's retry budget.
func (c *Crawler) Handle(ctx context.Context, msg queue.Message) error {
	var m ingest.TrackMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return queue.Permanent(fmt.Errorf("malformed webcrawler message: %w", err))
	}

	if err := c.store.TransitionStep(ctx, m.WorkflowID, workflow.StepWebcrawler, workflow.StepRunning, ""); err != nil {
		// A redelivery after a transient store failure finds the step already
		// RUNNING and carries on from there.
		steps, serr := c.store.GetSteps(ctx, m.WorkflowID)
		if serr != nil || steps[workflow.StepWebcrawler].State != workflow.StepRunning {
			return queue.Permanent(err)
		}
	}

	markdown, title, err := c.crawl(ctx, m.SourceURL)
	if err != nil {
		_ = c.store.TransitionStep(ctx, m.WorkflowID, workflow.StepWebcrawler, workflow.StepFailed, err.Error())
		return queue.Permanent(fmt.Errorf("crawl %s: %w", m.SourceURL, err))
	}

	if instr := strings.TrimSpace(m.CrawlInstruction); instr != "" {
		markdown = fmt.Sprintf("<!-- instruction: %s -->\n\n%s", instr, markdown)
	}
	if title != "" {
		markdown = "# " + title + "\n\n" + markdown
	}

	_, fileKey, err := objectstore.ParseURI(m.FileURI)
	if err != nil {
		_ = c.store.TransitionStep(ctx, m.WorkflowID, workflow.StepWebcrawler, workflow.StepFailed, err.Error())
		return queue.Permanent(err)
	}
	key := objectstore.DerivedKey(fileKey, ContentKey)
	if err := c.objects.PutBytes(ctx, key, []byte(markdown), "text/markdown"); err != nil {
		// Store failures are transient; leave the step RUNNING for the retry.
		return fmt.Errorf("store crawled content: %w", err)
	}

	if err := c.store.TransitionStep(ctx, m.WorkflowID, workflow.StepWebcrawler, workflow.StepDone, ""); err != nil {
		return queue.Permanent(err)
	}

	log.Info().
		Str("workflow_id", m.WorkflowID).
		Str("url", m.SourceURL).
		Int("markdown_bytes", len(markdown)).
		Msg("webcrawler_done")
	return nil
}

func (c *Crawler) crawl(ctx context.Context, pageURL string) (markdown, title string, err error) {
	if strings.TrimSpace(pageURL) == "" {
		return "", "", fmt.Errorf("missing source url")
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid url: %w", err)
	}

	html, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return "", "", err
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		// Unreadable page: fall back to converting the raw document.
		article.Content = html
	}
	content := article.Content
	if strings.TrimSpace(content) == "" {
		content = html
	}

	markdown, err = htmltomarkdown.ConvertString(content)
	if err != nil {
		return "", "", fmt.Errorf("convert to markdown: %w", err)
	}
	return markdown, article.Title, nil
}

// WaitTimeout bounds one headless-browser page load.
const WaitTimeout = 45 * time.Second
