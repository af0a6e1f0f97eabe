// Command contractbot runs the data-contract shepherd bot.
package main

import (
	"os"

	"github.com/datacontracts/shepherd/internal/clicmd"
)

func main() {
	if err := clicmd.Execute(); err != nil {
		os.Exit(1)
	}
}
