package main

import "github.com/roofmanager/ms-go-payments/cmd"

func main() {
	cmd.Execute()
}
