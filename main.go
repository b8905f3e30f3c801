package main

import (
	"discord-archiver/bot"
	"discord-archiver/config"
)

func main() {
	config.LoadConfig()
	bot.Run(config.GetSettings())
}
