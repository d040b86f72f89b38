package main

import "github.com/example/rail-scheduler/cmd"

func main() {
	cmd.Execute()
}
