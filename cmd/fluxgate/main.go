package main

import "github.com/AlexKimmel/fluxgate/cmd/fluxgate/cmd"

func main() {
	cmd.Execute()
}
