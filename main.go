// The main package for the terracrawler executable.
package main

import (
	"github.com/JakeFAU/terrasignum-crawler/cmd"
)

func main() {
	cmd.Execute()
}
