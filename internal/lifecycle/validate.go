package lifecycle

import (
	"fmt"
	"strings"

	"github.com/vaidashi/storefront-orders/internal/models"
	"github.com/vaidashi/storefront-orders/pkg/errors"
)

// ValidatePlacement checks the shape of a placement request. Stock and
// product existence are checked by the caller against inventory.
func ValidatePlacement(items models.OrderItems, addr models.ShippingAddress, prices models.Prices) error {
	if len(items) == 0 {
		return errors.NewInvalidOrderError("No order items")
	}

	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return errors.NewInvalidOrderError(fmt.Sprintf("Item %d is missing a product reference", i+1))
		}
		if item.Quantity <= 0 {
			return errors.NewInvalidOrderError(fmt.Sprintf("Quantity for %s must be greater than zero", itemLabel(item)))
		}
		if item.UnitPrice.IsNegative() {
			return errors.NewInvalidOrderError(fmt.Sprintf("Price for %s must not be negative", itemLabel(item)))
		}
	}

	if strings.TrimSpace(addr.Address) == "" ||
		strings.TrimSpace(addr.City) == "" ||
		strings.TrimSpace(addr.PostalCode) == "" ||
		strings.TrimSpace(addr.Country) == "" {
		return errors.NewInvalidOrderError("Shipping address is incomplete")
	}

	if prices.ItemsPrice.IsNegative() || prices.TaxPrice.IsNegative() ||
		prices.ShippingPrice.IsNegative() || prices.TotalPrice.IsNegative() {
		return errors.NewInvalidOrderError("Prices must not be negative")
	}

	return nil
}

func itemLabel(item models.OrderItem) string {
	if item.Name != "" {
		return item.Name
	}
	return item.ProductID
}
