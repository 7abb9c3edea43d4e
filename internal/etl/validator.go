package etl

import (
	"fmt"

	"github.com/BartekS5/essync/internal/search"
	"github.com/BartekS5/essync/pkg/document"
)

type Validator struct {
	PK string
}

func NewValidator(pk string) *Validator {
	return &Validator{PK: pk}
}

// DocumentID checks that the primary key field is present and scalar and
// returns it rendered as a document id.
func (v *Validator) DocumentID(doc *document.Document) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: nil document", ErrInvalidInput)
	}
	val, ok := doc.Get(v.PK)
	if !ok || val.IsNull() {
		return "", fmt.Errorf("%w: missing required ID field: %s", ErrInvalidInput, v.PK)
	}
	if !val.Kind().IsScalar() {
		return "", fmt.Errorf("%w: ID field %s is %s", ErrInvalidInput, v.PK, val.Kind())
	}
	id := val.Text()
	if id == "" {
		return "", fmt.Errorf("%w: empty ID field: %s", ErrInvalidInput, v.PK)
	}
	return id, nil
}

// ValidateActions checks every action before anything is sent.
func (v *Validator) ValidateActions(actions []search.BulkAction) error {
	for i, a := range actions {
		if err := a.Validate(v.PK); err != nil {
			return fmt.Errorf("%w: action %d: %v", ErrInvalidInput, i, err)
		}
	}
	return nil
}
