package main

import (
	"flag"

	"github.com/latortuga71/GoEvade/internal/config"
	"github.com/latortuga71/GoEvade/internal/console"
	"github.com/latortuga71/GoEvade/internal/log"
)

func main() {
	profilePtr := flag.String("profile", "", "YAML run profile to start from.")
	debugPtr := flag.Bool("debug", false, "sets log level to debug")
	flag.Parse()
	log.UseConsoleWriter()
	log.SetLevelInfo()
	if *debugPtr {
		log.SetLevelDebug()
	}
	if *profilePtr != "" {
		loaded, err := config.Load(*profilePtr)
		if err != nil {
			log.Log.Fatal().Msgf("%s", err.Error())
		}
		console.Profile = loaded
	}
	console.ConsoleMainLoop()
}
