package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServerLinks(t *testing.T) {
	s := &Server{ID: "a"}

	assert.True(t, s.AddLink("b", false))
	assert.False(t, s.AddLink("b", true), "second add is a no-op")
	assert.True(t, s.AddLink("c", true))
	assert.Len(t, s.Links, 2)
	assert.Nil(t, s.Links[0].UserID)
	assert.False(t, s.Links[0].UseLocalAddress)

	assert.True(t, s.RemoveLink("b"))
	assert.False(t, s.RemoveLink("b"))
	assert.Equal(t, []LinkEdge{{ServerID: "c", UseLocalAddress: true}}, s.Links)
}

func TestServerSharesHostWith(t *testing.T) {
	a := &Server{Hosts: []string{"h1", "h2", "h3"}}
	b := &Server{Hosts: []string{"h9", "h3"}}
	c := &Server{Hosts: []string{"h4"}}
	empty := &Server{}

	assert.True(t, a.SharesHostWith(b))
	assert.False(t, a.SharesHostWith(c))
	assert.False(t, empty.SharesHostWith(a))
}

func TestLinkErrorsMatchErrLink(t *testing.T) {
	for _, err := range []error{ErrLinkNotFound, ErrLinkOnline, ErrLinkReplica, ErrLinkCommonHost} {
		wrapped := fmt.Errorf("link a to b: %w", err)
		assert.ErrorIs(t, wrapped, ErrLink)
		assert.ErrorIs(t, wrapped, err)
	}
	assert.False(t, errors.Is(ErrLinkOnline, ErrLinkReplica))
	assert.False(t, errors.Is(ErrNotFound, ErrLink))
}
