package main

import "github.com/mglvsky/pairscan/cmd"

func main() {
	cmd.Execute()
}
