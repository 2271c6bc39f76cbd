package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewID returns a new random nanoid for documents and chunks minted
// inside the core. Panics only if the system entropy source is broken.
func NewID() string {
	id, err := gonanoid.New()
	if err != nil {
		panic(err)
	}
	return id
}
