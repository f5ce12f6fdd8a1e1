package browser

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	u, err := ParseURI("http://books.google.com/books?id=zyTCAlFPjgYC&hl=")
	require.NoError(t, err)
	require.Equal(t, "books.google.com", u.Host)

	_, err = ParseURI("")
	require.True(t, errors.Is(err, ErrNoDetail))

	_, err = ParseURI("No info. available")
	require.Error(t, err)

	_, err = ParseURI("http://[::1")
	require.Error(t, err)
}

func TestSystemOpenerRejectsInvalidURI(t *testing.T) {
	err := SystemOpener{}.Open("")
	require.ErrorIs(t, err, ErrNoDetail)
}
