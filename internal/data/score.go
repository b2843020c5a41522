package data

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

type ScoreRequest struct {
	Filename  string `json:"filename"`
	B64Binary string `json:"b64_binary"`
}

type ScoreResponse struct {
	Sha256     string  `json:"sha256"`
	SizeBytes  int     `json:"size_bytes"`
	Confidence float64 `json:"confidence"`
	Malicious  bool    `json:"malicious"`
}

type ScanRecord struct {
	ScanId     string    `json:"scan_id"`
	Filename   string    `json:"filename"`
	Sha256     string    `json:"sha256"`
	SizeBytes  int       `json:"size_bytes"`
	Confidence float64   `json:"confidence"`
	Malicious  bool      `json:"malicious"`
	ReceivedAt time.Time `json:"received_at"`
}

func (s *ScoreRequest) ToBytes() []byte {
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("Error Converting ScoreRequest To Bytes: %s", err.Error())
		return nil
	}
	return data
}

func (s *ScoreResponse) ToBytes() []byte {
	data, err := json.Marshal(s)
	if err != nil {
		log.Printf("Error Converting ScoreResponse To Bytes: %s", err.Error())
		return nil
	}
	return data
}

func GenerateUUID() string {
	id := uuid.New()
	return id.String()
}
