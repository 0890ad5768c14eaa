package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/phonedesk/server/internal/jsonable"
)

// SampleTimeLayout renders timestamps in the encode sample
const SampleTimeLayout = "2006-01-02 15:04:05"

type sampleItem struct {
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

type sampleUser struct {
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

// SampleData is the fixed value served by GET /encode/sample
func SampleData() map[string]any {
	return map[string]any{
		"item": sampleItem{Name: "Laptop", Price: 999.99, Available: true},
		"user": sampleUser{
			Username: "johndoe",
			JoinedAt: time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC),
		},
		"timestamp":   time.Date(2023, 7, 3, 14, 30, 45, 0, time.UTC),
		"numbers_set": map[int]struct{}{1: {}, 2: {}, 3: {}},
	}
}

// HandleEncodeSample handles GET /encode/sample
func HandleEncodeSample(w http.ResponseWriter, r *http.Request) {
	tree, err := jsonable.Encode(SampleData(), jsonable.WithTimeLayout(SampleTimeLayout))
	if err != nil {
		log.Printf("Failed to encode sample: %v", err)
		respondWithError(w, http.StatusInternalServerError, "failed to encode sample")
		return
	}
	respondJSON(w, http.StatusOK, tree)
}
