package main

import "github.com/chrisdamba/venuesim/cmd"

func main() {
	cmd.Execute()
}
