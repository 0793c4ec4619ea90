package main

import "vodgrab/cmd"

func main() {
	cmd.Execute()
}
