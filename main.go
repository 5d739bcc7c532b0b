package main

import "github.com/Trustflow-Network-Labs/gasless-arcade/internal/cmd"

func main() {
	cmd.Execute()
}
