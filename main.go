package main

import (
	"github.com/ColonelBlimp/pcmtap/cmd"
	"github.com/ColonelBlimp/pcmtap/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
