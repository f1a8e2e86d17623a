package main

import (
	"fmt"
	"os"

	"github.com/starford/tanda/internal/models"
)

// ANSI escapes for terminal output, disabled when NO_COLOR is set.
var (
	reset  = "\033[0m"
	bold   = "\033[1m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		reset, bold, red, green, yellow, cyan = "", "", "", "", "", ""
	}
}

// statusColor renders a status with its conventional color.
func statusColor(status models.Status) string {
	switch status {
	case models.StatusActive:
		return green + string(status) + reset
	case models.StatusFlaky:
		return yellow + string(status) + reset
	case models.StatusDeprecated:
		return red + string(status) + reset
	default:
		return string(status)
	}
}

func successf(format string, args ...any) {
	fmt.Printf(green+format+reset+"\n", args...)
}

func warnf(format string, args ...any) {
	fmt.Printf(yellow+format+reset+"\n", args...)
}

// truncate shortens a string for table display.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-2] + ".."
}
