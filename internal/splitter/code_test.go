package splitter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/model"
)

const tsSample = `import { Widget } from "./widget";

export interface Renderer {
  render(w: Widget): string;
}

export class ConsoleRenderer {
  private prefix: string;

  constructor(prefix: string) {
    this.prefix = prefix;
  }

  render(w: Widget): string {
    return this.prefix + w.name;
  }

  reset(): void {
    this.prefix = "";
  }
}
`

func TestCodeSplitterLossless(t *testing.T) {
	chunks, err := NewCodeSplitter(DefaultSizes()).Split(context.Background(), []byte(tsSample), "renderer.ts", "")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Content)
	}
	assert.Equal(t, tsSample, sb.String())
}

func TestCodeSplitterPathsAndStructuralTags(t *testing.T) {
	chunks, err := NewCodeSplitter(DefaultSizes()).Split(context.Background(), []byte(tsSample), "renderer.ts", "")
	require.NoError(t, err)

	var sawClass, sawMethod bool
	structuralPerPath := map[string]int{}
	for _, c := range chunks {
		assert.True(t, c.HasType(model.ChunkCode))
		key := strings.Join(c.Section.Path, "/")
		if c.HasType(model.ChunkStructural) {
			structuralPerPath[key]++
		}
		if key == "ConsoleRenderer" {
			sawClass = true
		}
		if strings.HasPrefix(key, "ConsoleRenderer/") {
			sawMethod = true
		}
	}
	assert.True(t, sawClass, "expected a chunk inside the class")
	assert.True(t, sawMethod, "expected a chunk inside a class method")

	for key, n := range structuralPerPath {
		assert.LessOrEqual(t, n, 1, "more than one structural chunk for %s", key)
	}
}

func TestCodeSplitterGoDeclarations(t *testing.T) {
	src := `package demo

import "fmt"

type Greeter struct {
	name string
}

func (g Greeter) Greet() string {
	return fmt.Sprintf("hi %s", g.name)
}

func main() {
	fmt.Println(Greeter{name: "go"}.Greet())
}
`
	chunks, err := NewCodeSplitter(DefaultSizes()).Split(context.Background(), []byte(src), "demo.go", "")
	require.NoError(t, err)

	var sb strings.Builder
	paths := map[string]bool{}
	for _, c := range chunks {
		sb.WriteString(c.Content)
		paths[strings.Join(c.Section.Path, "/")] = true
	}
	assert.Equal(t, src, sb.String())
	assert.True(t, paths["Greeter"], "type declaration path missing")
	assert.True(t, paths["Greet"], "method path missing")
	assert.True(t, paths["main"], "function path missing")
}

func TestCodeSplitterRespectsMaxSize(t *testing.T) {
	var body strings.Builder
	body.WriteString("def giant():\n")
	for i := 0; i < 300; i++ {
		body.WriteString("    value = value + 1  # keep the function body growing\n")
	}

	sizes := Sizes{Preferred: 400, Max: 800}
	chunks, err := NewCodeSplitter(sizes).Split(context.Background(), []byte(body.String()), "giant.py", "")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	var sb strings.Builder
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), sizes.Max)
		sb.WriteString(c.Content)
	}
	assert.Equal(t, body.String(), sb.String())
}

func TestCodeSplitterUnsupportedLanguage(t *testing.T) {
	_, err := NewCodeSplitter(DefaultSizes()).Split(context.Background(), []byte("body"), "styles.css", "text/css")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProcessing)
}

func TestLanguageFor(t *testing.T) {
	assert.Equal(t, "go", LanguageFor("main.go", ""))
	assert.Equal(t, "tsx", LanguageFor("App.tsx", ""))
	assert.Equal(t, "python", LanguageFor("", "text/x-python"))
	assert.Equal(t, "", LanguageFor("README.md", "text/markdown"))
}
