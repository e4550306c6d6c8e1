package main

import (
	"fmt"
	"strings"

	"github.com/abogadovillegasminero-blip/bless/internal/strategy"
	"github.com/abogadovillegasminero-blip/bless/internal/version"
)

// printVersion 输出版本串以及编译进来的检索策略。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
	fmt.Fprintf(stdOut, "strategies: %s\n", strings.Join(strategy.Keys(), ", "))
}
