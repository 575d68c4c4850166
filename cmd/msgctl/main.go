package main

import "github.com/nfrund/bizdash/cmd/msgctl/cmd"

func main() {
	cmd.Execute()
}
