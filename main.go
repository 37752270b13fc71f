package main

import "github.com/breathlink/breathlink/pkg/cmd"

func main() {
	cmd.Run()
}
