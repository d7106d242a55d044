package main

import "github.com/frahmantamala/fleet-portal/cmd"

func main() {
	cmd.Execute()
}
