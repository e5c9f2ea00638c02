package utils

import (
	"fmt"

	"github.com/apex/log/handlers/cli"
)

var (
	normalPadding = cli.Default.Padding
	doublePadding = normalPadding * 2
	triplePadding = normalPadding * 3
)

// Indent indents apex log line
func Indent(f func(s string)) func(string) {
	return func(s string) {
		cli.Default.Padding = doublePadding
		f(s)
		cli.Default.Padding = normalPadding
	}
}

// DoubleIndent double indents apex log line
func DoubleIndent(f func(s string)) func(string) {
	return func(s string) {
		cli.Default.Padding = triplePadding
		f(s)
		cli.Default.Padding = normalPadding
	}
}

// Hex formats a kernel address or value for log fields
func Hex(v uint64) string {
	return fmt.Sprintf("%#016x", v)
}
