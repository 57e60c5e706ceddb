package services

import "github.com/magabrotheeeer/quote-of-the-day/internal/models"

// allowedTransitions переходы статуса по webhook-событиям. Из cancelled
// выводит только новое оформление подписки пользователем.
var allowedTransitions = map[models.Status]map[models.Status]bool{
	models.StatusActive: {
		models.StatusActive:     true,
		models.StatusPastDue:    true,
		models.StatusCancelled:  true,
		models.StatusIncomplete: true,
	},
	models.StatusPastDue: {
		models.StatusPastDue:    true,
		models.StatusActive:     true,
		models.StatusCancelled:  true,
		models.StatusIncomplete: true,
	},
	models.StatusIncomplete: {
		models.StatusIncomplete: true,
		models.StatusActive:     true,
		models.StatusCancelled:  true,
		models.StatusPastDue:    true,
	},
	models.StatusCancelled: {
		models.StatusCancelled: true,
	},
}

// CanTransition проверяет, допустим ли переход статуса.
func CanTransition(from, to models.Status) bool {
	return allowedTransitions[from][to]
}
