package main

import "github.com/the-dev-tools/restsync/cmd/restsync/cmd"

func main() {
	cmd.Execute()
}
