package main

import "github.com/pders01/truthmint/cmd"

func main() {
	cmd.Execute()
}
