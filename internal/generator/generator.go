package generator

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator is an interface that defines a method to generate a new value of type T.
// Session ids are drawn from one per reconnect attempt.
type Generator[T any] interface {
	Next() (T, error)
}

// UUIDV4Generator is a generator that produces UUIDv4 strings.
// It implements the Generator interface.
type UUIDV4Generator struct{}

func (g *UUIDV4Generator) Next() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var _ Generator[string] = &UUIDV4Generator{}

// Sequence produces Prefix followed by 1, 2, 3, ...
// It is safe for concurrent use.
type Sequence struct {
	Prefix string
	n      atomic.Uint64
}

func (g *Sequence) Next() (string, error) {
	return g.Prefix + strconv.FormatUint(g.n.Add(1), 10), nil
}

var _ Generator[string] = &Sequence{}
