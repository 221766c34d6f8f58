package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtExtractor_HTMLStripsTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	html := `<html><head><style>body{color:red}</style></head>` +
		`<body><script>alert(1)</script><h1>Hello</h1><p>World</p></body></html>`
	require.NoError(t, os.WriteFile(path, []byte(html), 0o644))

	text, err := extExtractor{}.Extract(path, "page.html")
	require.NoError(t, err)
	require.Contains(t, text, "Hello")
	require.Contains(t, text, "World")
	require.NotContains(t, text, "alert")
	require.NotContains(t, text, "color:red")
}

func TestExtExtractor_PlaintextPassesThrough(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Title\n\nSome body text."), 0o644))

	text, err := extExtractor{}.Extract(path, "notes.md")
	require.NoError(t, err)
	require.Equal(t, "# Title\n\nSome body text.", text)
}

func TestExtExtractor_UnknownExtensionFallsBackToRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob.docx")
	require.NoError(t, os.WriteFile(path, []byte("raw bytes, not parsed"), 0o644))

	text, err := extExtractor{}.Extract(path, "blob.docx")
	require.NoError(t, err)
	require.Equal(t, "raw bytes, not parsed", text)
}
