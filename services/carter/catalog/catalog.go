package catalog

import (
	"fmt"
	"os"

	"github.com/titanous/json5"
)

// CartType is the storefront's availability status for an item.
type CartType int

const (
	CartTypeUnknown     CartType = 0
	CartTypeUnavailable CartType = 1
	CartTypeClosed      CartType = 2
	CartTypeSoon        CartType = 5
	CartTypeBackOrder   CartType = 7
	CartTypePreOrder    CartType = 8
	CartTypeDirectBuy   CartType = 9
)

func (c CartType) String() string {
	switch c {
	case CartTypeUnavailable:
		return "unavailable"
	case CartTypeClosed:
		return "closed"
	case CartTypeSoon:
		return "soon"
	case CartTypeBackOrder:
		return "back-order"
	case CartTypePreOrder:
		return "pre-order"
	case CartTypeDirectBuy:
		return "direct-buy"
	case CartTypeUnknown:
		return "unknown"
	}
	return fmt.Sprintf("cart_type(%d)", int(c))
}

type Item struct {
	Code           string `json:"scode"`
	Desc           string `json:"desc"`
	MaxCartinCount int    `json:"max_cartin_count"`
	// 0 means a single unit
	Amount int `json:"amount"`

	// last status seen from the api, not part of the catalog file
	CartType CartType `json:"-"`
}

// Quantity is the amount to request, capped at the item's buy limit.
func (i Item) Quantity() int {
	amount := i.Amount
	if amount <= 0 {
		amount = 1
	}
	if i.MaxCartinCount > 0 && amount > i.MaxCartinCount {
		amount = i.MaxCartinCount
	}
	return amount
}

// Catalog mirrors the layout of the item data file:
//
//	{"data": {"headers": {...}, "base_request_data": {...},
//	          "fumo_items_data": [...], "test_items_data": [...]}}
type Catalog struct {
	Headers         map[string]string `json:"headers"`
	BaseRequestData map[string]any    `json:"base_request_data"`
	Items           []Item            `json:"fumo_items_data"`
	TestItems       []Item            `json:"test_items_data"`
}

func Parse(contents []byte) (Catalog, error) {
	var file struct {
		Data Catalog `json:"data"`
	}
	err := json5.Unmarshal(contents, &file)
	if err != nil {
		return Catalog{}, err
	}
	return file.Data, nil
}

func Load(path string) (Catalog, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	cat, err := Parse(contents)
	if err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// Select returns the item list a run works on.
func (c Catalog) Select(testMode bool) []Item {
	if testMode {
		return append([]Item(nil), c.TestItems...)
	}
	return append([]Item(nil), c.Items...)
}
