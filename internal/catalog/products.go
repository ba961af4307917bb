package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strings"
)

// Product is one promotable item from the product data file.
type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

// ProductStore holds the promotable product inventory loaded from disk.
type ProductStore struct {
	products []Product
}

// LoadProducts reads the product data file. A missing file yields an
// empty store without error so promo flows degrade instead of failing.
func LoadProducts(path string) (*ProductStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProductStore{}, nil
		}
		return nil, fmt.Errorf("failed to read product data: %w", err)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse product data: %w", err)
	}
	return &ProductStore{products: products}, nil
}

func NewProductStore(products []Product) *ProductStore {
	return &ProductStore{products: products}
}

func (p *ProductStore) All() []Product {
	out := make([]Product, len(p.products))
	copy(out, p.products)
	return out
}

func (p *ProductStore) Size() int {
	return len(p.products)
}

// Match finds a product whose name or category appears in the text, or
// whose text appears in the product name.
func (p *ProductStore) Match(text string) (Product, bool) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return Product{}, false
	}
	for _, prod := range p.products {
		name := strings.ToLower(strings.TrimSpace(prod.Name))
		if name == "" {
			continue
		}
		if strings.Contains(lowered, name) || strings.Contains(name, lowered) {
			return prod, true
		}
	}
	for _, prod := range p.products {
		if cat := strings.ToLower(prod.Category); cat != "" && strings.Contains(lowered, cat) {
			return prod, true
		}
	}
	return Product{}, false
}

// Random picks an arbitrary product, for promo requests that name none.
func (p *ProductStore) Random() (Product, bool) {
	if len(p.products) == 0 {
		return Product{}, false
	}
	return p.products[rand.Intn(len(p.products))], true
}

// PromoCaption renders the caption attached to a promo video for this
// product.
func (p Product) PromoCaption() string {
	caption := p.Name
	if p.Price != "" {
		caption += " - " + p.Price
	}
	return caption
}

// ListText renders the inventory as a numbered reply.
func (p *ProductStore) ListText() string {
	if len(p.products) == 0 {
		return "لا توجد منتجات متاحة حالياً."
	}
	var b strings.Builder
	b.WriteString("📦 المنتجات المتاحة:\n")
	for i, prod := range p.products {
		fmt.Fprintf(&b, "\n*%d* - %s", i+1, prod.Name)
		if prod.Price != "" {
			fmt.Fprintf(&b, " (%s)", prod.Price)
		}
	}
	return b.String()
}
