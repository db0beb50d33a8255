package main

import "github.com/moodmash/authgate/cmd/authgate/cmd"

func main() {
	cmd.Execute()
}
