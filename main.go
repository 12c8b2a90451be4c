package main

import "github.com/samsaffron/codereview-chat/cmd"

func main() {
	cmd.Execute()
}
