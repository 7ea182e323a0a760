// Command mockupctl manages MockupSuite data from a terminal. Writes go
// through an offline queue and are replayed in order once the API is back.
package main

import (
	"errors"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
