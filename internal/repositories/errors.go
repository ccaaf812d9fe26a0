package repositories

import (
	"errors"

	"github.com/lib/pq"
)

// invalid_text_representation, raised for values such as a non-uuid id.
const codeInvalidText = "22P02"

// IsMalformedInput reports whether Postgres rejected a parameter because it
// cannot be parsed as its column type.
func IsMalformedInput(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeInvalidText
}
