package session

import "wa-gateway/go-backend/pkg/models"

var transitions = map[models.SessionStatus][]models.SessionStatus{
	models.StatusInitializing: {models.StatusQRReady, models.StatusConnected, models.StatusDisconnected, models.StatusLoggedOut},
	models.StatusQRReady:      {models.StatusQRReady, models.StatusConnected, models.StatusDisconnected, models.StatusLoggedOut},
	models.StatusConnected:    {models.StatusDisconnected, models.StatusLoggedOut},
	models.StatusDisconnected: {models.StatusInitializing, models.StatusLoggedOut},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
