package main

import (
	"github.com/Divyanshu-Bhandari/shadow-talk/cmd/shadowtalk/cmd"
)

func main() {
	cmd.Execute()
}
