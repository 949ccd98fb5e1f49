package main

import "github.com/stratadb/strata/cmd"

func main() {
	cmd.Execute()
}
