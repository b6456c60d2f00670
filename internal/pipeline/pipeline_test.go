package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/model"
	"docdex/internal/splitter"
)

func TestRunChainEnforcesSingleNext(t *testing.T) {
	var order []string
	chain := []Middleware{
		func(c *Chain, next func()) {
			order = append(order, "first")
			next()
			next() // second call is a chain error, not an abort
		},
		func(c *Chain, next func()) {
			order = append(order, "second")
			next()
		},
	}

	c := &Chain{}
	RunChain(c, chain)

	assert.Equal(t, []string{"first", "second"}, order)
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "more than once")
}

func TestRunChainCapturesPanic(t *testing.T) {
	ran := false
	chain := []Middleware{
		func(c *Chain, next func()) { panic("bad middleware") },
		func(c *Chain, next func()) { ran = true },
	}

	c := &Chain{}
	RunChain(c, chain)

	assert.False(t, ran, "a panic stops the rest of the chain")
	require.Len(t, c.Errors, 1)
	assert.Contains(t, c.Errors[0], "bad middleware")
}

func TestRunChainShortCircuitWithoutNext(t *testing.T) {
	ran := false
	chain := []Middleware{
		func(c *Chain, next func()) {}, // never calls next
		func(c *Chain, next func()) { ran = true },
	}

	c := &Chain{}
	RunChain(c, chain)
	assert.False(t, ran)
	assert.Empty(t, c.Errors)
}

func TestRegistryRoutingOrder(t *testing.T) {
	reg := DefaultRegistry(splitter.DefaultSizes())

	cases := []struct {
		name string
		raw  *model.RawContent
		want string
	}{
		{"json by mime", &model.RawContent{MimeType: "application/json", Source: "https://x/pkg", Content: []byte("{}")}, "json"},
		{"source by extension", &model.RawContent{MimeType: "text/plain", Source: "https://x/util.ts", Content: []byte("export const a = 1;")}, "source-code"},
		{"html", &model.RawContent{MimeType: "text/html", Source: "https://x/", Content: []byte("<html></html>")}, "html"},
		{"markdown", &model.RawContent{MimeType: "text/markdown", Source: "https://x/README.md", Content: []byte("# hi")}, "markdown"},
		{"text fallback", &model.RawContent{MimeType: "text/plain", Source: "https://x/notes.txt", Content: []byte("hi")}, "text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := reg.Route(tc.raw)
			require.NotNil(t, p)
			assert.Equal(t, tc.want, p.Name())
		})
	}
}

func TestRegistryRejectsBinary(t *testing.T) {
	reg := DefaultRegistry(splitter.DefaultSizes())
	p := reg.Route(&model.RawContent{
		MimeType: "application/octet-stream",
		Source:   "https://x/blob.bin",
		Content:  []byte{0x00, 0x01, 0x02},
	})
	assert.Nil(t, p)
}

func TestHTMLPipelineProcess(t *testing.T) {
	html := `<html><head><title>Guide | Docs</title>
<script>tracking()</script></head>
<body>
<h1>Guide</h1>
<p>Read the <a href="/install">install section</a> or the <a href="#local">local anchor</a>.</p>
<img src="/diagram.png"><img src="https://www.google-analytics.com/collect?x=1"><img>
<pre><code>npm install docdex</code></pre>
</body></html>`

	p := NewHTMLPipeline(splitter.DefaultSizes())
	res, err := p.Process(context.Background(), &model.RawContent{
		Content:  []byte(html),
		MimeType: "text/html",
		Source:   "https://docs.example.com/start/",
	}, model.DefaultScraperOptions())
	require.NoError(t, err)

	assert.Equal(t, "Guide | Docs", res.Title)
	assert.Equal(t, []string{"https://docs.example.com/install"}, res.Links)
	assert.NotContains(t, res.TextContent, "tracking()")
	assert.NotContains(t, res.TextContent, "google-analytics")
	assert.Contains(t, res.TextContent, "install section")
	assert.NotEmpty(t, res.Chunks)
}

func TestHTMLPipelineRelativeImageResolved(t *testing.T) {
	html := `<html><body><img src="img/x.png" alt="x"><p>text</p></body></html>`

	p := NewHTMLPipeline(splitter.DefaultSizes())
	res, err := p.Process(context.Background(), &model.RawContent{
		Content:  []byte(html),
		MimeType: "text/html",
		Source:   "https://docs.example.com/a/b/",
	}, model.DefaultScraperOptions())
	require.NoError(t, err)
	assert.Contains(t, res.TextContent, "https://docs.example.com/a/b/img/x.png")
}

func TestMarkdownPipelineProcess(t *testing.T) {
	src := "# Install\n\nSee [the guide](./guide.md) and [site](https://example.com/x#frag).\n\n```sh\nnpm i\n```\n"

	p := NewMarkdownPipeline(splitter.DefaultSizes())
	res, err := p.Process(context.Background(), &model.RawContent{
		Content:  []byte(src),
		MimeType: "text/markdown",
		Source:   "https://docs.example.com/install.md",
	}, model.DefaultScraperOptions())
	require.NoError(t, err)

	assert.Equal(t, "Install", res.Title)
	assert.ElementsMatch(t, []string{
		"https://docs.example.com/guide.md",
		"https://example.com/x",
	}, res.Links)
	assert.Equal(t, src, res.TextContent)
	assert.NotEmpty(t, res.Chunks)
}

func TestJSONPipelineProcess(t *testing.T) {
	p := NewJSONPipeline(splitter.DefaultSizes())
	res, err := p.Process(context.Background(), &model.RawContent{
		Content:  []byte(`{"name":"docdex","homepage":"https://example.com"}`),
		MimeType: "application/json",
		Source:   "https://registry.example.com/docdex/package.json",
	}, model.DefaultScraperOptions())
	require.NoError(t, err)

	assert.Equal(t, "docdex", res.Title)
	assert.Empty(t, res.Links, "json never contributes links")
	assert.NotEmpty(t, res.Chunks)
}

func TestTextPipelineRejectsBinary(t *testing.T) {
	p := NewTextPipeline(splitter.DefaultSizes())
	_, err := p.Process(context.Background(), &model.RawContent{
		Content:  []byte{'a', 0x00, 'b'},
		MimeType: "text/plain",
		Source:   "https://x/f.txt",
	}, model.DefaultScraperOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProcessing)
}

func TestTextPipelineChunksAndMerges(t *testing.T) {
	src := strings.Repeat("a line of plain text\n", 50)
	p := NewTextPipeline(splitter.DefaultSizes())
	res, err := p.Process(context.Background(), &model.RawContent{
		Content:  []byte(src),
		MimeType: "text/plain",
		Source:   "https://x/notes.txt",
	}, model.DefaultScraperOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, src, res.TextContent)
}
