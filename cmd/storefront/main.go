// storefront is a command-line storefront client. Each command performs a
// single operation against the backend, making it composable for scripts.
// Identity and the guest cart persist in the device store between runs.
//
// Commands:
//
//	storefront products [-search TEXT] [-category NAME] [-sort ORDER]
//	storefront product -slug SLUG
//	storefront cart
//	storefront add -product ID [-qty N]
//	storefront inc|dec|remove -product ID
//	storefront empty
//	storefront checkout
//	storefront whoami | link | logout | orders [-items] | watch
//	storefront login -u USERNAME [-p PASSWORD]
//	storefront login-url -provider github|google
//	storefront register -u USERNAME -email EMAIL [-p PASSWORD]
//
// Examples:
//
//	storefront add -product 3 -qty 2
//	storefront login -u ada
//	URL=$(storefront checkout -q)
package main

import (
	"fmt"
	"os"
)

// Global flags (apply to all commands)
var (
	apiBase string
	quiet   bool
	noColor bool
	verbose bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

var commands = map[string]func(args []string){
	"products":  runProducts,
	"product":   runProduct,
	"cart":      runCart,
	"add":       runAdd,
	"inc":       runInc,
	"dec":       runDec,
	"remove":    runRemove,
	"empty":     runEmpty,
	"checkout":  runCheckout,
	"whoami":    runWhoAmI,
	"link":      runLink,
	"login":     runLogin,
	"logout":    runLogout,
	"login-url": runLoginURL,
	"orders":    runOrders,
	"register":  runRegister,
	"watch":     runWatch,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	}

	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	run(args)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storefront - onion storefront client

Usage:
  storefront <command> [options]

Catalog:
  products   List products (search, category filter, sort)
  product    Show one product by slug

Cart:
  cart       Show the cart (device cart for guests, server cart when signed in)
  add        Add units of a product
  inc        Add one unit of a product
  dec        Remove one unit of a product
  remove     Remove a product's line
  empty      Remove every line
  checkout   Place the order and print the payment page URL

Account:
  whoami     Show the signed-in principal
  link       Resolve the application user for the current session
  login      Sign in with username and password
  logout     Sign out and forget the application user
  login-url  Print the OAuth login URL for a provider
  register   Create an account
  orders     List past orders
  watch      Follow sign-in changes made by other processes

Configuration is read from the environment (STOREFRONT_API_BASE,
STOREFRONT_STORE, STOREFRONT_STATE_PATH, ...) or from CONFIG_FILE.

Run 'storefront <command> -h' for command-specific options.
`)
}
