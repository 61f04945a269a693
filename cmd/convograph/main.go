// Command convograph runs the dataset search assistant as an HTTP service or
// an interactive terminal chat.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
