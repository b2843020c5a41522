package main

import (
	"flag"
	"os"
	"os/signal"

	"github.com/latortuga71/GoEvade/internal/detector"
	"github.com/latortuga71/GoEvade/internal/log"
	"github.com/latortuga71/GoEvade/internal/routes"
)

func main() {
	// setup
	debug := flag.Bool("debug", false, "sets log level to debug")
	secret := flag.String("secret", "", "set the shared secret clients must present. empty leaves the server open.")
	port := flag.String("port", "8443", "port for the REST scoring API.")
	wsPort := flag.String("wsport", "8444", "port for the websocket scoring endpoint.")
	threshold := flag.Float64("threshold", 0.5, "confidence at or above which a sample is flagged malicious.")
	flag.Parse()
	log.SetLevelInfo()
	if *debug {
		routes.DebugMode = true
		log.SetLevelDebug()
	}
	if *threshold <= 0 || *threshold > 1 {
		log.Log.Info().Msg("-threshold parameter must be inside (0,1].")
		flag.PrintDefaults()
		os.Exit(0)
	}
	routes.ServerSharedSecret = *secret
	routes.ScoreModel = detector.NewModel(*threshold)
	log.Log.Debug().Msgf("Setting Detection Threshold To %f", *threshold)
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go routes.StartScoreAPI(*port)
	log.Log.Info().Msg("Running Score API.")
	go routes.StartWebSocketServer(*wsPort)
	log.Log.Info().Msg("Running WebSocket Score Server.")
	<-interrupt
	log.Log.Debug().Msg("Received SIGINT interrupt signal. Exiting....")
}
