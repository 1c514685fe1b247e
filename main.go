package main

import "github.com/andresmejia3/spectra/cmd"

func main() {
	cmd.Execute()
}
