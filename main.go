package main

import "github.com/vodgrab/vodgrab/cmd"

func main() {
	cmd.Execute()
}
