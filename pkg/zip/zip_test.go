package zip

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveAndExtractCaptions(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "out/mp-1.vtt", Data: []byte("WEBVTT\n")},
		{Filename: "out/mp-1.docx", Data: []byte("docx")},
		{Filename: "readme.txt", Data: []byte("ignore")},
	})
	require.NoError(t, err)
	assert.True(t, IsArchive(data))

	got, err := ExtractAssets(data, func(name string) bool {
		return strings.HasPrefix(name, "mp-1.")
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "mp-1.vtt", got[0].Filename)
	assert.Equal(t, "text/vtt", got[0].MIME)
	assert.Equal(t, "WEBVTT\n", string(got[0].Data))
	assert.Equal(t, "mp-1.docx", got[1].Filename)
}

func TestExtractAllWithNilFilter(t *testing.T) {
	data, err := ArchiveAssets([]Asset{{Filename: "a.json", Data: []byte("{}")}})
	require.NoError(t, err)
	got, err := ExtractAssets(data, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "application/json", got[0].MIME)
}

func TestExtractRejectsNonArchive(t *testing.T) {
	assert.False(t, IsArchive([]byte(`{"results":[]}`)))
	_, err := ExtractAssets([]byte("not a zip"), nil)
	assert.Error(t, err)
}
