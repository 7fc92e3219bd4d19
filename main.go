package main

import (
	"uprobedeploy/cmd"
)

func main() {
	cmd.Execute()
}
