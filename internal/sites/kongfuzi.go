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
	kongfuziSalesSearchURL = "https://search.kongfz.com/product/?keyword=%s&dataType=1&sortType=10&page=%d&actionPath=sortType,quality&quality=90~&quaSelect=2"
	kongfuziShopBooksURL   = "https://shop.kongfz.com/%s/all/0_50_0_0_%d_newItem_desc_0_0/"

	defaultSalesDaysLimit = 30
	maxSalesPages         = 20
	maxShopBookPages      = 50
)

// KongfuziExecutor crawls kongfz.com: sold listings for a single ISBN
// and the full inventory of a shop.
type KongfuziExecutor struct {
	log logger.Logger
	now func() time.Time
}

func NewKongfuzi(log logger.Logger) *KongfuziExecutor {
	return &KongfuziExecutor{log: log, now: time.Now}
}

func (e *KongfuziExecutor) Site() string { return SiteKongfuzi }

func (e *KongfuziExecutor) Supports(t domain.TaskType) bool {
	return t == domain.TaskTypeBookSales || t == domain.TaskTypeShopBooks
}

func (e *KongfuziExecutor) Execute(ctx context.Context, h browser.Handle, task *domain.Task) (*Result, error) {
	switch task.Type {
	case domain.TaskTypeBookSales:
		isbn := task.Params.String("isbn")
		if isbn == "" {
			return nil, fmt.Errorf("task %s: missing isbn param", task.ID)
		}
		days := task.Params.Int("days_limit")
		if days <= 0 {
			days = defaultSalesDaysLimit
		}
		return e.crawlBookSales(ctx, h, isbn, days)
	case domain.TaskTypeShopBooks:
		shopID := task.Params.String("shop_id")
		if shopID == "" {
			return nil, fmt.Errorf("task %s: missing shop_id param", task.ID)
		}
		return e.crawlShopBooks(ctx, h, shopID)
	default:
		return nil, fmt.Errorf("kongfuzi: unsupported task type %q", task.Type)
	}
}

// crawlBookSales walks the sold-listing search pages for an ISBN,
// newest first, and stops once a page contains records older than the
// cutoff.
func (e *KongfuziExecutor) crawlBookSales(ctx context.Context, h browser.Handle, isbn string, daysLimit int) (*Result, error) {
	now := e.now()
	cutoff := now.AddDate(0, 0, -daysLimit)
	var all []domain.SaleRecord

	for page := 1; page <= maxSalesPages; page++ {
		url := fmt.Sprintf(kongfuziSalesSearchURL, isbn, page)
		doc, err := e.loadPage(ctx, h, url)
		if err != nil {
			return nil, err
		}

		records, hasOld := parseKongfuziSales(doc, isbn, now, cutoff)
		if len(records) == 0 && !hasOld {
			break
		}
		all = append(all, records...)
		if hasOld {
			break
		}

		e.log.Debug("crawled sales page",
			logger.String("isbn", isbn),
			logger.Int("page", page),
			logger.Int("records", len(records)))
	}

	return &Result{ItemsCrawled: len(all), Sales: all}, nil
}

// crawlShopBooks walks a shop's inventory pages until one comes back
// empty.
func (e *KongfuziExecutor) crawlShopBooks(ctx context.Context, h browser.Handle, shopID string) (*Result, error) {
	now := e.now()
	var all []domain.BookListing

	for page := 1; page <= maxShopBookPages; page++ {
		url := fmt.Sprintf(kongfuziShopBooksURL, shopID, page)
		doc, err := e.loadPage(ctx, h, url)
		if err != nil {
			return nil, err
		}

		books := parseKongfuziShopBooks(doc, shopID, now)
		if len(books) == 0 {
			break
		}
		all = append(all, books...)

		e.log.Debug("crawled shop page",
			logger.String("shop_id", shopID),
			logger.Int("page", page),
			logger.Int("books", len(books)))
	}

	return &Result{ItemsCrawled: len(all), Books: all}, nil
}

func (e *KongfuziExecutor) loadPage(ctx context.Context, h browser.Handle, url string) (*goquery.Document, error) {
	if err := h.Navigate(ctx, url); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	body, err := h.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page %s: %w", url, err)
	}
	if err := classifyPage(SiteKongfuzi, h.CurrentURL(), body); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page %s: %w", url, err)
	}
	return doc, nil
}

// parseKongfuziSales extracts sold listings from a search result page.
// The second return reports whether any record fell before the cutoff.
func parseKongfuziSales(doc *goquery.Document, isbn string, now, cutoff time.Time) ([]domain.SaleRecord, bool) {
	var records []domain.SaleRecord
	hasOld := false

	doc.Find(".product-item-wrap").Each(func(_ int, item *goquery.Selection) {
		soldText := strings.TrimSpace(item.Find(".sold-time").Text())
		soldAt, ok := parseSaleDate(soldText, now)
		if !ok {
			return
		}
		if soldAt.Before(cutoff) {
			hasOld = true
			return
		}

		rec := domain.SaleRecord{
			ISBN:    isbn,
			Site:    SiteKongfuzi,
			SoldAt:  soldAt,
			SeenAt:  now,
			Quality: strings.TrimSpace(item.Find(".quality-info").Text()),
		}
		intPart := strings.TrimSpace(item.Find(".price-int").Text())
		fracPart := strings.TrimSpace(item.Find(".price-float").Text())
		if intPart != "" {
			rec.Price, _ = parsePrice(intPart + "." + fracPart)
		}
		records = append(records, rec)
	})

	return records, hasOld
}

// parseKongfuziShopBooks extracts inventory rows. Newer shop pages use
// .item-row with identifying attributes; older ones fall back to .item.
func parseKongfuziShopBooks(doc *goquery.Document, shopID string, now time.Time) []domain.BookListing {
	var books []domain.BookListing

	doc.Find(".item-row").Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(".row-name").Text())
		if title == "" {
			return
		}
		b := domain.BookListing{
			Title:     title,
			Author:    strings.TrimSpace(item.Find(".row-author").Text()),
			Publisher: strings.TrimSpace(item.Find(".row-press").Text()),
			Quality:   strings.TrimSpace(item.Find(".row-quality").Text()),
			ShopID:    shopID,
			SeenAt:    now,
		}
		b.ItemID, _ = item.Attr("itemid")
		b.ISBN, _ = item.Attr("isbn")
		b.URL, _ = item.Find(".row-name a").Attr("href")
		if b.URL == "" {
			b.URL, _ = item.Find("a.row-name").Attr("href")
		}

		priceText := strings.TrimSpace(item.Find(".row-price .bold").Text())
		if priceText == "" {
			priceText = item.Find(".row-price").Text()
		}
		b.Price, _ = parsePrice(priceText)
		books = append(books, b)
	})
	if len(books) > 0 {
		return books
	}

	doc.Find(".item").Each(func(_ int, item *goquery.Selection) {
		link := item.Find(".title a")
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return
		}
		b := domain.BookListing{
			Title:   title,
			Quality: strings.TrimSpace(item.Find(".quality").Text()),
			ShopID:  shopID,
			SeenAt:  now,
		}
		b.URL, _ = link.Attr("href")
		b.ItemID = itemIDFromURL(b.URL)
		b.Price, _ = parsePrice(item.Find(".price").Text())
		books = append(books, b)
	})

	return books
}

var itemURLPattern = regexp.MustCompile(`/(\d+)/(\d+)/`)

func itemIDFromURL(url string) string {
	m := itemURLPattern.FindStringSubmatch(url)
	if len(m) == 3 {
		return m[2]
	}
	return ""
}

// parseSaleDate turns a "已售 N天前" style label into an absolute time.
// Labels without the sold marker are rejected.
func parseSaleDate(soldText string, now time.Time) (time.Time, bool) {
	if !strings.Contains(soldText, "已售") {
		return time.Time{}, false
	}
	s := strings.TrimSpace(strings.ReplaceAll(soldText, "已售", ""))

	relative := []struct {
		suffix string
		unit   time.Duration
	}{
		{"分钟前", time.Minute},
		{"小时前", time.Hour},
		{"天前", 24 * time.Hour},
		{"月前", 30 * 24 * time.Hour},
		{"年前", 365 * 24 * time.Hour},
	}
	for _, r := range relative {
		if strings.HasSuffix(s, r.suffix) {
			n, err := strconv.Atoi(strings.TrimSuffix(s, r.suffix))
			if err != nil {
				return time.Time{}, false
			}
			return now.Add(-time.Duration(n) * r.unit), true
		}
	}

	t, err := time.ParseInLocation("2006-01-02", s, now.Location())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

var priceCleaner = regexp.MustCompile(`[^0-9.]`)

func parsePrice(s string) (float64, error) {
	cleaned := priceCleaner.ReplaceAllString(s, "")
	if cleaned == "" || cleaned == "." {
		return 0, fmt.Errorf("no price in %q", s)
	}
	return strconv.ParseFloat(cleaned, 64)
}

// ComputeSalesStats aggregates sale records into the trailing-window
// counts and price summary the API serves. Stats are derived on read
// so they always reflect the stored records, not a crawl-time snapshot.
func ComputeSalesStats(sales []domain.SaleRecord, isbn string, now time.Time) *domain.SalesStats {
	stats := &domain.SalesStats{ISBN: isbn, TotalRecords: len(sales)}
	var prices []float64

	for i := range sales {
		s := &sales[i]
		age := now.Sub(s.SoldAt)
		if age <= 24*time.Hour {
			stats.Sales1Day++
		}
		if age <= 7*24*time.Hour {
			stats.Sales7Days++
		}
		if age <= 30*24*time.Hour {
			stats.Sales30Days++
		}
		if stats.LatestSaleAt == nil || s.SoldAt.After(*stats.LatestSaleAt) {
			t := s.SoldAt
			stats.LatestSaleAt = &t
		}
		if s.Price > 0 {
			prices = append(prices, s.Price)
		}
	}

	if len(prices) > 0 {
		sum := 0.0
		stats.MinPrice = prices[0]
		stats.MaxPrice = prices[0]
		for _, p := range prices {
			sum += p
			if p < stats.MinPrice {
				stats.MinPrice = p
			}
			if p > stats.MaxPrice {
				stats.MaxPrice = p
			}
		}
		stats.AveragePrice = float64(int(sum/float64(len(prices))*100+0.5)) / 100
	}
	return stats
}
