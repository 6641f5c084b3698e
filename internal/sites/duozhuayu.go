package sites

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonesrussell/bookcrawl/internal/browser"
	"github.com/jonesrussell/bookcrawl/internal/domain"
	"github.com/jonesrussell/bookcrawl/internal/logger"
)

const (
	duozhuayuBaseURL   = "https://www.duozhuayu.com"
	duozhuayuSearchURL = duozhuayuBaseURL + "/search/book/%s"

	duozhuayuResultSelector = ".search_result_item"
	duozhuayuPriceContainer = "div[class*='jsx'][class*='plain'][class*='bordered']"
)

// DuozhuayuExecutor looks up the lowest offered price for an ISBN on
// duozhuayu.com.
type DuozhuayuExecutor struct {
	log logger.Logger
	now func() time.Time
}

func NewDuozhuayu(log logger.Logger) *DuozhuayuExecutor {
	return &DuozhuayuExecutor{log: log, now: time.Now}
}

func (e *DuozhuayuExecutor) Site() string { return SiteDuozhuayu }

func (e *DuozhuayuExecutor) Supports(t domain.TaskType) bool {
	return t == domain.TaskTypePriceLookup
}

func (e *DuozhuayuExecutor) Execute(ctx context.Context, h browser.Handle, task *domain.Task) (*Result, error) {
	if task.Type != domain.TaskTypePriceLookup {
		return nil, fmt.Errorf("duozhuayu: unsupported task type %q", task.Type)
	}
	isbn := task.Params.String("isbn")
	if isbn == "" {
		return nil, fmt.Errorf("task %s: missing isbn param", task.ID)
	}

	doc, err := e.loadPage(ctx, h, fmt.Sprintf(duozhuayuSearchURL, isbn))
	if err != nil {
		return nil, err
	}

	first := doc.Find(duozhuayuResultSelector).First()
	if first.Length() == 0 {
		return nil, fmt.Errorf("duozhuayu: no search results for isbn %s", isbn)
	}

	// The search result links to the book detail page where prices
	// live.
	href := firstHref(first)
	if href == "" {
		return nil, fmt.Errorf("duozhuayu: search result for isbn %s has no detail link", isbn)
	}
	if strings.HasPrefix(href, "/") {
		href = duozhuayuBaseURL + href
	}

	doc, err = e.loadPage(ctx, h, href)
	if err != nil {
		return nil, err
	}

	price, ok := parseDuozhuayuPrice(doc)
	if !ok {
		return nil, fmt.Errorf("duozhuayu: no price found for isbn %s", isbn)
	}

	e.log.Debug("price lookup complete",
		logger.String("isbn", isbn),
		logger.Float64("price", price))

	quote := &domain.PriceQuote{
		ISBN:      isbn,
		Site:      SiteDuozhuayu,
		Price:     price,
		FetchedAt: e.now(),
	}
	return &Result{ItemsCrawled: 1, Price: quote}, nil
}

func (e *DuozhuayuExecutor) loadPage(ctx context.Context, h browser.Handle, url string) (*goquery.Document, error) {
	if err := h.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	body, err := h.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page %s: %w", url, err)
	}
	if err := classifyPage(SiteDuozhuayu, h.CurrentURL(), body); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", url, err)
	}
	return doc, nil
}

func firstHref(sel *goquery.Selection) string {
	if href, ok := sel.Attr("href"); ok {
		return href
	}
	href, _ := sel.Find("a").First().Attr("href")
	return href
}

var duozhuayuPricePattern = regexp.MustCompile(`¥?(\d+\.?\d*)`)

// parseDuozhuayuPrice digs the lowest listed price out of the detail
// page. The markup varies, so it tries the clay price tag first, then
// the discount range, then any price inside the bordered container.
func parseDuozhuayuPrice(doc *goquery.Document) (float64, bool) {
	container := doc.Find(duozhuayuPriceContainer).First()
	if container.Length() == 0 {
		return 0, false
	}

	if text := container.Find(".Price.Price--clay").First().Text(); text != "" {
		if p, ok := matchPrice(text); ok {
			return p, true
		}
	}

	rangeSel := container.Find(".book-price-section .price-range-with-discount .Price").First()
	if text := rangeSel.Text(); text != "" {
		if p, ok := matchPrice(text); ok {
			return p, true
		}
	}

	found := 0.0
	container.Find(".Price").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		// Small numbers on this page are discount figures, not
		// prices.
		if p, ok := matchPrice(s.Text()); ok && p > 1.0 {
			found = p
			return false
		}
		return true
	})
	if found > 0 {
		return found, true
	}

	if p, ok := matchPrice(container.Text()); ok && p > 1.0 {
		return p, true
	}
	return 0, false
}

func matchPrice(text string) (float64, bool) {
	m := duozhuayuPricePattern.FindStringSubmatch(text)
	if len(m) != 2 || m[1] == "" || m[1] == "." {
		return 0, false
	}
	p, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return p, true
}
