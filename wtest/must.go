// Package wtest carries shared test helpers.
package wtest

import (
	"math/rand"
	"testing"

	"github.com/itchio/randsource"
	"github.com/pkg/errors"
)

// Must shows a complete error stack and fails a test immediately if err
// is non-nil.
func Must(t *testing.T, err error) {
	if err != nil {
		t.Helper()
		t.Errorf("%+v", errors.WithStack(err))
		t.FailNow()
	}
}

// MakeData returns size deterministic pseudo-random bytes for the given
// seed.
func MakeData(t *testing.T, seed int64, size int) []byte {
	t.Helper()

	prng := randsource.Reader{
		Source: rand.New(rand.NewSource(seed)),
	}

	data := make([]byte, size)
	if _, err := prng.Read(data); err != nil {
		t.Fatalf("generating data: %v", err)
	}
	return data
}
