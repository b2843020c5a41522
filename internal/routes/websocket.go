package routes

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/latortuga71/GoEvade/internal/data"
	"github.com/latortuga71/GoEvade/internal/log"
	"github.com/latortuga71/GoEvade/internal/utils"
)

var SocketUpgrader = websocket.Upgrader{}

// SocketHandlerScore serves scoring over one persistent connection. Binary
// frames carry a raw candidate and are answered with a JSON verdict. Text
// frames carry enveloped control messages.
func SocketHandlerScore(w http.ResponseWriter, r *http.Request) {
	conn, err := SocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Error during connection upgrade: %v", err)
		return
	}
	sharedSecret := r.Header.Get("shared-secret")
	if ServerSharedSecret != "" && sharedSecret != ServerSharedSecret {
		log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Error closing connection invalid shared secret supplied -> %s", sharedSecret)
		conn.Close()
		return
	}
	defer conn.Close()
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Error during message reading: %v", err)
			break
		}
		if messageType == websocket.BinaryMessage {
			if len(message) == 0 {
				continue
			}
			response := RecordScan("websocket", message)
			if err := conn.WriteMessage(websocket.TextMessage, response.ToBytes()); err != nil {
				log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Error during message writing: %v", err)
				break
			}
			continue
		}
		err, kind := utils.CheckMessage(message)
		if err != nil {
			log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Err Unknown Message Type Received: %s", message)
			continue
		}
		switch kind {
		case "ScoreRequest":
			envelope := &data.Message{}
			scorePayload := &data.ScoreRequest{}
			if json.Unmarshal(message, envelope) != nil || json.Unmarshal(envelope.MessageData, scorePayload) != nil {
				log.Log.Error().Str("service", "WebsocketScoreHandler").Msg("Failed to decode score request envelope.")
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(scorePayload.B64Binary)
			if err != nil || len(raw) == 0 {
				log.Log.Error().Str("service", "WebsocketScoreHandler").Msg("Score request carried no usable binary.")
				continue
			}
			response := RecordScan(scorePayload.Filename, raw)
			if err := conn.WriteMessage(websocket.TextMessage, response.ToBytes()); err != nil {
				log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Error during message writing: %v", err)
				return
			}
		case "Ping":
			msg := data.Message{
				MessageType: "Pong",
				MessageData: nil,
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.ToBytes()); err != nil {
				log.Log.Error().Str("service", "WebsocketScoreHandler").Msgf("Error during message writing: %v", err)
				return
			}
		case "Exit":
			log.Log.Info().Str("service", "WebsocketScoreHandler").Msg("Peer requested exit, closing connection.")
			return
		default:
			log.Log.Info().Str("service", "WebsocketScoreHandler").Msgf("Ignoring message type %s", kind)
		}
	}
}

func StartWebSocketServer(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/socketScore", SocketHandlerScore)
	server := http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	err := server.ListenAndServe()
	log.Log.Fatal().Str("service", "WebsocketScoreServer").Msgf("%v", err)
}
