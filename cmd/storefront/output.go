package main

import (
	"errors"
	"fmt"
	"os"

	"storefront/internal/model"
)

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printProductLine(p model.Product) {
	stock := fmt.Sprintf("%d in stock", p.Quantity)
	if p.Quantity <= 0 {
		stock = colorRed + "sold out" + colorReset
	}
	fmt.Printf("%s%4s%s  %-28s %s%8s%s  %s%s%s  %s\n",
		colorGray, p.ID, colorReset,
		p.Name,
		colorGreen, formatAmount(p.Price), colorReset,
		colorGray, p.Slug, colorReset,
		stock)
}

func printCart(s *session, c model.Cart) {
	if quiet {
		fmt.Println(c.Count())
		return
	}

	mode := "guest cart"
	if userID, ok := s.cart.UserID(); ok {
		mode = "cart of user " + userID.String()
	}
	fmt.Printf("%s%s%s (%d items)\n", colorBold, mode, colorReset, c.Count())
	if len(c.Items) == 0 {
		printInfo("Empty")
		return
	}
	for _, it := range c.Items {
		fmt.Printf("  %3d × %-28s %s%8s%s\n",
			it.Quantity, productName(s, it.ProductID),
			colorGray, formatAmount(it.TotalPrice), colorReset)
	}
	fmt.Printf("  %-34s %s%8s%s\n", "Total", colorGreen, formatAmount(c.TotalPrice), colorReset)
}

// productName is the catalog name, or the id when the catalog is not loaded.
func productName(s *session, id model.ID) string {
	if p, ok := s.catalog.Product(id); ok {
		return p.Name
	}
	return "product " + id.String()
}

// formatAmount renders an amount with two decimals, "-" when absent.
func formatAmount(a model.Amount) string {
	if !a.Valid {
		return "-"
	}
	return "$" + model.FormatAmount(a.Value)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

// describeError turns an operation error into the line shown to the user.
func describeError(err error) string {
	var httpErr *model.HTTPError
	var contract *model.ContractViolation

	switch {
	case errors.Is(err, model.ErrNotAuthenticated):
		return "Sign in first: 'storefront login' or 'storefront login-url'"
	case errors.Is(err, model.ErrInvalidRequest) && !errors.As(err, &httpErr):
		return err.Error()
	case errors.As(err, &contract):
		return "Backend response incomplete: " + contract.Error()
	case errors.As(err, &httpErr):
		return fmt.Sprintf("Backend answered %d: %s", httpErr.StatusCode, httpErr.Message)
	default:
		return err.Error()
	}
}

// fail reports err and exits.
func fail(err error) {
	printError("%s", describeError(err))
	exit(1)
}

func fatal(format string, args ...interface{}) {
	printError(format, args...)
	exit(1)
}

// exit closes the open session, saving the cookies of calls that already
// succeeded, then exits. Deferred Close calls do not run under os.Exit.
func exit(code int) {
	closeActive()
	os.Exit(code)
}
