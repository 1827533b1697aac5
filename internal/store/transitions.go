package store

import "github.com/remiriasukaretto/LINEBOT/internal/models"

var transitionMap = map[string][]models.Status{
	"call":   {models.StatusWaiting},
	"arrive": {models.StatusCalled},
	"finish": {models.StatusArrived},
	"cancel": {models.StatusWaiting, models.StatusCalled},
}

// FromStatuses returns the source states a queue action may leave from,
// or nil for an unknown action.
func FromStatuses(action string) []models.Status {
	return transitionMap[action]
}

func ValidTransition(action string, from models.Status) bool {
	for _, status := range transitionMap[action] {
		if status == from {
			return true
		}
	}
	return false
}
