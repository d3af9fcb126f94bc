// Package reconcile holds the pure cart logic shared by the guest cart and
// the server cart mirror: line mutations, totals, and the plans that turn a
// local intent into backend calls. Nothing here performs I/O; the cart
// package executes the plans.
package reconcile

import (
	"storefront/internal/model"
)

// PriceFunc looks up the catalog price of a product. An invalid Amount
// means the catalog does not know the product.
type PriceFunc func(productID model.ID) model.Amount

// NoPrices is a PriceFunc for when the catalog is not loaded.
func NoPrices(model.ID) model.Amount { return model.Amount{} }

// =============================================================================
// GUEST LINE MUTATIONS
// =============================================================================
//
// Each mutation returns a new slice and never modifies its input. A line's
// quantity is always > 0 in the result: reaching zero removes the line.
// A line whose quantity changes loses its explicit total so that Totals
// recomputes it from the unit price.
//
// =============================================================================

// AddLine increments the line for productID by qty, or appends a new line
// priced at price. A qty below 1 leaves items unchanged.
func AddLine(items []model.CartItem, productID model.ID, qty int, price model.Amount) []model.CartItem {
	out := clone(items)
	if qty < 1 || !productID.Valid() {
		return out
	}
	for i := range out {
		if out[i].ProductID == productID {
			out[i].Quantity += qty
			out[i].TotalPrice = model.Amount{}
			if !out[i].Price.Valid {
				out[i].Price = price
			}
			return out
		}
	}
	return append(out, model.CartItem{ProductID: productID, Quantity: qty, Price: price})
}

// DecrementLine lowers the line for productID by one, removing it when the
// quantity reaches zero. A missing line leaves items unchanged.
func DecrementLine(items []model.CartItem, productID model.ID) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID == productID {
			it.Quantity--
			it.TotalPrice = model.Amount{}
			if it.Quantity <= 0 {
				continue
			}
		}
		out = append(out, it)
	}
	return out
}

// RemoveLine deletes the line for productID.
func RemoveLine(items []model.CartItem, productID model.ID) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID != productID {
			out = append(out, it)
		}
	}
	return out
}

// Sanitize drops lines that could not have been written by this client:
// non-positive product ids or quantities. Guest carts read from device
// storage pass through it before use.
func Sanitize(items []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	for _, it := range items {
		if it.ProductID.Valid() && it.Quantity > 0 {
			out = append(out, it)
		}
	}
	return out
}

func clone(items []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, len(items), len(items)+1)
	copy(out, items)
	return out
}

// =============================================================================
// TOTALS
// =============================================================================

// UnitPrice is the line price when finite, else the catalog price, else 0.
func UnitPrice(it model.CartItem, prices PriceFunc) float64 {
	if it.Price.Valid {
		return it.Price.Value
	}
	if prices != nil {
		if p := prices(it.ProductID); p.Valid {
			return p.Value
		}
	}
	return 0
}

// LineTotal is the explicit line total when finite, else unit price × quantity.
func LineTotal(it model.CartItem, prices PriceFunc) float64 {
	if it.TotalPrice.Valid {
		return it.TotalPrice.Value
	}
	return UnitPrice(it, prices) * float64(it.Quantity)
}

// Totals returns a copy of cart with every line priced and the cart total
// filled in. A finite total already on the cart (the backend's) wins over
// the sum of line totals.
func Totals(cart model.Cart, prices PriceFunc) model.Cart {
	out := model.Cart{Items: make([]model.CartItem, len(cart.Items))}
	sum := 0.0
	for i, it := range cart.Items {
		line := it
		line.Price = model.AmountOf(UnitPrice(it, prices))
		line.TotalPrice = model.AmountOf(LineTotal(it, prices))
		out.Items[i] = line
		sum += line.TotalPrice.Value
	}
	if cart.TotalPrice.Valid {
		out.TotalPrice = cart.TotalPrice
	} else {
		out.TotalPrice = model.AmountOf(sum)
	}
	return out
}

// Recompute prices a guest cart. Guest carts never carry an authoritative
// total, so the stored one is ignored.
func Recompute(items []model.CartItem, prices PriceFunc) model.Cart {
	return Totals(model.Cart{Items: items}, prices)
}

// =============================================================================
// SERVER CART PLANS
// =============================================================================

// Delta is one additive quantity call against the server cart.
type Delta struct {
	ProductID model.ID
	Quantity  int
}

// PlanMerge turns guest lines into the additive calls that move them into
// the server cart, in cart order. Lines without a positive product id or
// quantity are skipped.
func PlanMerge(guest []model.CartItem) []Delta {
	var plan []Delta
	for _, it := range guest {
		if !it.ProductID.Valid() || it.Quantity <= 0 {
			continue
		}
		plan = append(plan, Delta{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return plan
}

// DecreaseAction is what decreasing a server cart line requires.
type DecreaseAction int

const (
	// DecreaseNone: the product is not in the cart.
	DecreaseNone DecreaseAction = iota
	// DecreaseDelta: submit an additive call with quantity -1.
	DecreaseDelta
	// DecreaseRemove: delete the line. The backend cannot set a line to zero.
	DecreaseRemove
)

func (a DecreaseAction) String() string {
	switch a {
	case DecreaseDelta:
		return "delta"
	case DecreaseRemove:
		return "remove"
	default:
		return "none"
	}
}

// PlanDecrease decides how to lower productID by one in the server cart.
func PlanDecrease(cart model.Cart, productID model.ID) DecreaseAction {
	line, ok := cart.Line(productID)
	switch {
	case !ok || line.Quantity <= 0:
		return DecreaseNone
	case line.Quantity == 1:
		return DecreaseRemove
	default:
		return DecreaseDelta
	}
}
