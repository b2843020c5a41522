package data

import (
	"encoding/json"
	"log"
	"time"
)

// RunReport is the serializable summary of one evasion run. The history
// arrays are parallel and indexed by generation, index 0 being the
// unperturbed baseline.
type RunReport struct {
	RunId             string    `json:"run_id"`
	Strategy          string    `json:"strategy"`
	OriginalSize      int       `json:"original_size"`
	AdversarialSize   int       `json:"adversarial_size"`
	Generations       int       `json:"generations"`
	ConfidenceHistory []float64 `json:"confidence_history"`
	FitnessHistory    []float64 `json:"fitness_history"`
	SizeHistory       []int     `json:"size_history"`
	BestGeneration    int       `json:"best_generation"`
	BestConfidence    float64   `json:"best_confidence"`
	BestFitness       float64   `json:"best_fitness"`
	BestSectionNames  []string  `json:"best_section_names,omitempty"`
	Evaded            bool      `json:"evaded"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

func (r *RunReport) ToBytes() []byte {
	data, err := json.MarshalIndent(r, "", " ")
	if err != nil {
		log.Printf("Error Converting RunReport To Bytes: %s", err.Error())
		return nil
	}
	return data
}
