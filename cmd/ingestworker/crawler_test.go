package main

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSameOrigin_KeepsSameHost(t *testing.T) {
	origin, err := url.Parse("https://example.com/docs/intro")
	require.NoError(t, err)

	resolved, err := resolveSameOrigin(origin, "/docs/next#section")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/docs/next", resolved)
}

func TestResolveSameOrigin_RejectsCrossOrigin(t *testing.T) {
	origin, err := url.Parse("https://example.com/docs/intro")
	require.NoError(t, err)

	resolved, err := resolveSameOrigin(origin, "https://other.com/page")
	require.NoError(t, err)
	require.Empty(t, resolved)
}

func TestResolveSameOrigin_RejectsMalformedHref(t *testing.T) {
	origin, err := url.Parse("https://example.com/")
	require.NoError(t, err)

	_, err = resolveSameOrigin(origin, "://bad-url")
	require.Error(t, err)
}
