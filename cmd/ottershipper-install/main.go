package main

import "github.com/ottershipper/installer/cmd/ottershipper-install/cmd"

func main() {
	cmd.Execute()
}
