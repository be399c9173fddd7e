package main

import (
	"fmt"

	"github.com/relaychat/chat-bridge-service/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
