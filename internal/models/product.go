package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups products. Archived categories are hidden together with their products.
type Category struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsDeleted bool      `db:"is_deleted" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Product is a sellable catalog entry. Discount is a fraction in [0, 1].
type Product struct {
	ID          int64           `db:"id" json:"id"`
	CategoryID  int64           `db:"category_id" json:"category_id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	Stock       int             `db:"stock" json:"stock"`
	ImgURL      string          `db:"img_url" json:"img_url"`
	IsDeleted   bool            `db:"is_deleted" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	Images      []ProductImage  `db:"-" json:"images,omitempty"`
}

type ProductImage struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	URL       string    `db:"url" json:"url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FinalPrice is price × (1 − discount), rounded to cents
func (p *Product) FinalPrice() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(1).Sub(p.Discount)).Round(2)
}

func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product

	return json.Marshal(struct {
		plain
		FinalPrice decimal.Decimal `json:"final_price"`
	}{
		plain:      plain(p),
		FinalPrice: p.FinalPrice(),
	})
}
