package main

import "github.com/frahmantamala/payout-engine/cmd"

func main() {
	cmd.Execute()
}
