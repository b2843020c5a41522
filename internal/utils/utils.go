package utils

import (
	"encoding/json"
	"errors"

	"github.com/latortuga71/GoEvade/internal/data"
)

func CheckMessage(socketData []byte) (error, string) {
	message := &data.Message{}
	err := json.Unmarshal(socketData, message)
	if err != nil {
		return nil, ""
	}
	switch message.MessageType {
	case "ScoreRequest":
		return nil, "ScoreRequest"
	case "ScoreResponse":
		return nil, "ScoreResponse"
	case "Ping":
		return nil, "Ping"
	case "Pong":
		return nil, "Pong"
	case "Exit":
		return nil, "Exit"
	case "Error":
		return nil, "Error"
	default:
		return errors.New("Unknown Message Type"), ""
	}
}
