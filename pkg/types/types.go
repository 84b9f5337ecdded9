package types

import (
	"strings"
	"time"
)

type Category string

const (
	CategorySteps     Category = "steps"
	CategoryHeartRate Category = "heart_rate"
	CategorySleep     Category = "sleep"
)

// Record is a single wellness sample as exchanged with the sync API.
type Record struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Source    string    `json:"source,omitempty"`
}

// Batch is the payload submitted in one sync call.
type Batch struct {
	Records     []Record  `json:"records"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

func ParseCategories(names []string) []Category {
	categories := make([]Category, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		categories = append(categories, Category(name))
	}
	return categories
}
