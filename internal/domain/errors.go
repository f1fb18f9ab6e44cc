package domain

import "errors"

var (
	// ErrFoodNotFound is returned when a food cannot be found in the FDC catalog
	ErrFoodNotFound = errors.New("food not found in FDC catalog")

	// ErrNoCandidates is returned when a search yields no usable candidates
	ErrNoCandidates = errors.New("no candidates returned by catalog search")

	// ErrInvalidIngredient is returned when the input ingredient string is empty or invalid
	ErrInvalidIngredient = errors.New("invalid ingredient")

	// ErrCatalogUnavailable is returned when the FDC API fails after all retries
	ErrCatalogUnavailable = errors.New("FDC catalog request failed")

	// ErrLLMUnavailable is returned when no chat client is configured or the call failed
	ErrLLMUnavailable = errors.New("LLM unavailable")

	// ErrMalformedResponse is returned when an LLM response cannot be parsed as the expected JSON
	ErrMalformedResponse = errors.New("malformed LLM response")

	// ErrEmptyNutrients is returned when a detail record carries no nutrient rows
	ErrEmptyNutrients = errors.New("detail record has no nutrients")
)
