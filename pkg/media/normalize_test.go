package media

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskrelay/pkg/task"
)

func testResolver(t *testing.T, files ...string) PathResolver {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, f, []byte("x"), 0o644))
	}
	return PathResolver{FS: fs, PublicBaseURL: "https://files.example/", UploadDir: "/uploads"}
}

func TestNormalizeInlineImagesFirst(t *testing.T) {
	tk := &task.Task{Attachments: []task.Attachment{
		{URL: "https://cdn.example/decl.png", MimeType: "image/png", Size: 100},
	}}
	plan := Normalize(tk, []string{"https://cdn.example/inline.jpg"}, nil)

	require.NotNil(t, plan.Preview)
	assert.Equal(t, "https://cdn.example/inline.jpg", plan.Preview.URL)
	require.Len(t, plan.Extras, 2)
	assert.Equal(t, "https://cdn.example/decl.png", plan.Extras[1].URL)
}

func TestNormalizeClassification(t *testing.T) {
	res := testResolver(t, "/uploads/big.jpg")
	tk := &task.Task{Attachments: []task.Attachment{
		{URL: "https://cdn.example/small.webp", MimeType: "image/webp", Size: 1 << 20, Name: "small"},
		{URL: "https://cdn.example/huge.png", MimeType: "image/png", Size: 20 << 20, Name: "huge"},
		{URL: "https://files.example/big.jpg", MimeType: "image/jpeg", Size: 20 << 20, Name: "big"},
		{URL: "https://cdn.example/scan.tiff", MimeType: "image/tiff", Size: 10, Name: "scan"},
		{URL: "https://cdn.example/report.pdf", MimeType: "application/pdf", Size: 10, Name: "report"},
		{URL: "https://youtu.be/abc123", MimeType: "image/png", Name: "demo"},
	}}
	plan := Normalize(tk, nil, res)

	kinds := map[string]Kind{}
	for _, a := range plan.Items() {
		kinds[a.Name] = a.Kind
	}
	want := map[string]Kind{
		"small":  KindImage,
		"huge":   KindDocument,
		"big":    KindImage,
		"scan":   KindDocument,
		"report": KindDocument,
		"demo":   KindVideoLink,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, plan.CollageCandidates, 1)
	assert.Equal(t, "/uploads/big.jpg", plan.CollageCandidates[0].LocalPath)
	assert.Equal(t, "https://cdn.example/small.webp", plan.Preview.URL)
	assert.Len(t, plan.Extras, 5)
}

func TestNormalizeDedupesOnKindAndURL(t *testing.T) {
	tk := &task.Task{Attachments: []task.Attachment{
		{URL: "https://cdn.example/a.png", MimeType: "image/png", Name: "first"},
		{URL: "https://cdn.example/a.png", MimeType: "image/png", Name: "second"},
		{URL: "https://cdn.example/a.png", MimeType: "application/octet-stream", Name: "as file"},
	}}
	plan := Normalize(tk, []string{"https://cdn.example/a.png"}, nil)

	items := plan.Items()
	require.Len(t, items, 2)
	assert.Equal(t, KindImage, items[0].Kind)
	assert.Equal(t, "", items[0].Caption, "inline occurrence wins")
	assert.Equal(t, KindDocument, items[1].Kind)
}

func TestNormalizeIsDeterministic(t *testing.T) {
	res := testResolver(t, "/uploads/x.png", "/uploads/y.png")
	tk := &task.Task{Attachments: []task.Attachment{
		{URL: "https://files.example/x.png", MimeType: "image/png"},
		{URL: "https://vimeo.com/12345", Name: "clip"},
		{URL: "https://files.example/y.png", MimeType: "image/png"},
	}}
	a := Normalize(tk, []string{"https://cdn.example/i.gif"}, res)
	b := Normalize(tk, []string{"https://cdn.example/i.gif"}, res)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("plans differ:\n%s", diff)
	}
	assert.Len(t, a.CollageCandidates, 2)
}

func TestNormalizeEmpty(t *testing.T) {
	plan := Normalize(&task.Task{}, nil, nil)
	assert.Nil(t, plan.Preview)
	assert.Empty(t, plan.Items())
}

func TestPathResolver(t *testing.T) {
	res := testResolver(t, "/uploads/a/b.png")

	p, ok := res.Local("https://files.example/a/b.png?v=2")
	assert.True(t, ok)
	assert.Equal(t, "/uploads/a/b.png", p)

	_, ok = res.Local("https://files.example/../etc/passwd")
	assert.False(t, ok)
	_, ok = res.Local("https://other.example/a/b.png")
	assert.False(t, ok)
	_, ok = res.Local("https://files.example/missing.png")
	assert.False(t, ok)
}

func TestIsVideoURL(t *testing.T) {
	assert.True(t, IsVideoURL("https://www.youtube.com/watch?v=x"))
	assert.True(t, IsVideoURL("https://youtu.be/x"))
	assert.True(t, IsVideoURL("https://vimeo.com/123"))
	assert.False(t, IsVideoURL("https://example.com/video.mp4"))
}
