// Command cadencectl administers the cadence engine: schema migrations, stage catalog, manual advances and dev tokens.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
