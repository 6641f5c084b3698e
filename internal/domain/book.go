package domain

import "time"

// SaleRecord is a single completed sale observed on a marketplace
// listing page.
type SaleRecord struct {
	ID      int64     `db:"id" json:"id"`
	ISBN    string    `db:"isbn" json:"isbn"`
	Site    string    `db:"site" json:"site"`
	ShopID  string    `db:"shop_id" json:"shop_id,omitempty"`
	Title   string    `db:"title" json:"title,omitempty"`
	Price   float64   `db:"price" json:"price"`
	Quality string    `db:"quality" json:"quality,omitempty"`
	SoldAt  time.Time `db:"sold_at" json:"sold_at"`
	SeenAt  time.Time `db:"seen_at" json:"seen_at"`
}

// BookListing is an item currently offered by a shop.
type BookListing struct {
	ID        int64     `db:"id" json:"id"`
	ISBN      string    `db:"isbn" json:"isbn"`
	ItemID    string    `db:"item_id" json:"item_id,omitempty"`
	ShopID    string    `db:"shop_id" json:"shop_id"`
	Title     string    `db:"title" json:"title"`
	Author    string    `db:"author" json:"author,omitempty"`
	Publisher string    `db:"publisher" json:"publisher,omitempty"`
	Quality   string    `db:"quality" json:"quality,omitempty"`
	Price     float64   `db:"price" json:"price"`
	URL       string    `db:"url" json:"url,omitempty"`
	SeenAt    time.Time `db:"seen_at" json:"seen_at"`
}

// PriceQuote is the lowest price found for an ISBN on a site at a
// point in time.
type PriceQuote struct {
	ID        int64     `db:"id" json:"id"`
	ISBN      string    `db:"isbn" json:"isbn"`
	Site      string    `db:"site" json:"site"`
	Price     float64   `db:"price" json:"price"`
	FetchedAt time.Time `db:"fetched_at" json:"fetched_at"`
}

// SalesStats summarizes sale records for an ISBN over trailing windows.
type SalesStats struct {
	ISBN         string     `json:"isbn"`
	Sales1Day    int        `json:"sales_1_day"`
	Sales7Days   int        `json:"sales_7_days"`
	Sales30Days  int        `json:"sales_30_days"`
	TotalRecords int        `json:"total_records"`
	LatestSaleAt *time.Time `json:"latest_sale_at,omitempty"`
	AveragePrice float64    `json:"average_price,omitempty"`
	MinPrice     float64    `json:"min_price,omitempty"`
	MaxPrice     float64    `json:"max_price,omitempty"`
}
