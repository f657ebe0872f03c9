// Command otto is a declarative, dependency-driven task runner.
package main

import (
	"os"

	"github.com/ottolang/otto/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
