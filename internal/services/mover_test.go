package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func TestManifest_Path(t *testing.T) {
	m := NewManifest("/archive", fixedClock)
	assert.Equal(t, filepath.Join("/archive", "processed_pdfs_list_03-07-2024.txt"), m.Path(fixedClock()))
}

func TestManifest_AppendNeverRewrites(t *testing.T) {
	dir := t.TempDir()
	m := NewManifest(dir, fixedClock)

	require.NoError(t, m.Append("A_B_C_1.pdf"))
	require.NoError(t, m.Append("A_B_C_2.pdf"))
	require.NoError(t, m.Append("A_B_C_1.pdf"))

	data, err := os.ReadFile(m.Path(fixedClock()))
	require.NoError(t, err)
	assert.Equal(t, "A_B_C_1.pdf\nA_B_C_2.pdf\nA_B_C_1.pdf\n", string(data))
}

func TestManifest_OneFilePerDay(t *testing.T) {
	dir := t.TempDir()
	now := fixedClock()
	m := NewManifest(dir, func() time.Time { return now })

	require.NoError(t, m.Append("day1.pdf"))
	now = now.Add(24 * time.Hour)
	require.NoError(t, m.Append("day2.pdf"))

	assert.Equal(t, []string{
		"processed_pdfs_list_03-07-2024.txt",
		"processed_pdfs_list_03-08-2024.txt",
	}, listNames(t, dir))
}

func TestStageMover_Finalize(t *testing.T) {
	layout := newTestLayout(t)
	writeFile(t, layout.Working, "DOC_A_B_2_x.pdf", "content")
	manifest := NewManifest(layout.Archive, fixedClock)
	mover := NewStageMover(layout, manifest, discardLogger())

	require.NoError(t, mover.Finalize("DOC_A_B_2_x.pdf"))

	assert.Empty(t, listNames(t, layout.Working))
	assert.Equal(t, []string{"DOC_A_B_2_x.pdf"}, listNames(t, layout.Finished))
	data, err := os.ReadFile(manifest.Path(fixedClock()))
	require.NoError(t, err)
	assert.Equal(t, "DOC_A_B_2_x.pdf\n", string(data))
}

func TestStageMover_FinalizeAgainAppends(t *testing.T) {
	layout := newTestLayout(t)
	manifest := NewManifest(layout.Archive, fixedClock)
	mover := NewStageMover(layout, manifest, discardLogger())

	writeFile(t, layout.Working, "DOC_A_B_2_x.pdf", "v1")
	require.NoError(t, mover.Finalize("DOC_A_B_2_x.pdf"))
	writeFile(t, layout.Working, "DOC_A_B_2_x.pdf", "v2")
	require.NoError(t, mover.Finalize("DOC_A_B_2_x.pdf"))

	data, err := os.ReadFile(manifest.Path(fixedClock()))
	require.NoError(t, err)
	assert.Equal(t, "DOC_A_B_2_x.pdf\nDOC_A_B_2_x.pdf\n", string(data))
}

func TestStageMover_FinalizeMissingDocument(t *testing.T) {
	layout := newTestLayout(t)
	manifest := NewManifest(layout.Archive, fixedClock)
	mover := NewStageMover(layout, manifest, discardLogger())

	err := mover.Finalize("missing.pdf")
	var relocation *RelocationError
	require.True(t, errors.As(err, &relocation))
	assert.NoFileExists(t, manifest.Path(fixedClock()))
}

func TestStageMover_Archive(t *testing.T) {
	layout := newTestLayout(t)
	writeFile(t, layout.Staging, "a.zip", "zip")
	mover := NewStageMover(layout, NewManifest(layout.Archive, fixedClock), discardLogger())

	require.NoError(t, mover.Archive("a.zip"))
	assert.Equal(t, []string{"a.zip"}, listNames(t, layout.Processed))
	assert.NoFileExists(t, filepath.Join(layout.Staging, "a.zip"))
}

func TestEnsureLayout(t *testing.T) {
	base := t.TempDir()
	layout := NewLayout(base)
	require.NoError(t, EnsureLayout(layout, 0))
	require.NoError(t, EnsureLayout(layout, 0))

	for _, rel := range []string{
		"manual/working",
		"manual/working/bad_pdf",
		"manual/zip",
		"manual/zip/processed",
		"manual/finished",
		"manual/archive",
		"manual/logs",
	} {
		assert.DirExists(t, filepath.Join(base, filepath.FromSlash(rel)))
	}
}

func TestStageMover_FinalizeRollsBackWhenManifestFails(t *testing.T) {
	layout := newTestLayout(t)
	writeFile(t, layout.Working, "DOC_A_B_2_x.pdf", "content")
	manifest := NewManifest(layout.Archive, fixedClock)
	require.NoError(t, os.Mkdir(manifest.Path(fixedClock()), 0o755))
	mover := NewStageMover(layout, manifest, discardLogger())

	err := mover.Finalize("DOC_A_B_2_x.pdf")
	require.Error(t, err)
	assert.Equal(t, []string{"DOC_A_B_2_x.pdf"}, listNames(t, layout.Working))
	assert.Empty(t, listNames(t, layout.Finished))
}
