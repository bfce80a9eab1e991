package main

import (
	"os"

	"github.com/awnumar/memguard"

	"github.com/ZentaChain/zentalk-chat/cmd/zentalk-chat/commands"
)

func main() {
	defer memguard.Purge()

	if err := commands.Execute(); err != nil {
		memguard.Purge()
		os.Exit(1)
	}
}
