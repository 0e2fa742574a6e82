// Command batchscrape fetches a list of targets and records their outcomes.
package main

import (
	"github.com/JakeFAU/batchscrape/cmd"
)

func main() {
	cmd.Execute()
}
