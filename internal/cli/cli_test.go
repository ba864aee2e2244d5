package cli

import (
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
)

func smallCanvas(t *testing.T) {
	t.Helper()
	t.Setenv("STORY_TARGET_WIDTH", "90")
	t.Setenv("STORY_TARGET_HEIGHT", "160")
	t.Setenv("STORY_BLUR_DOWNSCALE", "1")
}

func writeFixture(t *testing.T, dir, name string, w, h int, c color.NRGBA) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := imaging.Save(imaging.New(w, h, c), path); err != nil {
		t.Fatalf("save fixture: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func assertStory(t *testing.T, path string, w, h int) {
	t.Helper()
	img, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	if b := img.Bounds(); b.Dx() != w || b.Dy() != h {
		t.Fatalf("expected %dx%d, got %dx%d", w, h, b.Dx(), b.Dy())
	}
}

func TestRenderWritesDefaultOutput(t *testing.T) {
	smallCanvas(t)
	dir := t.TempDir()
	input := writeFixture(t, dir, "beach.png", 300, 200, color.NRGBA{R: 200, G: 120, B: 40, A: 255})

	out, err := execute(t, "render", input)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	want := filepath.Join(dir, "beach_story.jpg")
	if !strings.Contains(out, "Saved to: "+want) {
		t.Fatalf("unexpected output %q", out)
	}
	assertStory(t, want, 90, 160)
}

func TestRenderHonorsExplicitOutputAndPreset(t *testing.T) {
	smallCanvas(t)
	dir := t.TempDir()
	input := writeFixture(t, dir, "in.png", 120, 120, color.NRGBA{G: 255, A: 255})
	preset := filepath.Join(dir, "preset.yaml")
	if err := os.WriteFile(preset, []byte("target_width: 180\ntarget_height: 320\ndefault_mode: fill\n"), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	output := filepath.Join(dir, "nested", "out.jpg")

	if _, err := execute(t, "render", input, output, "--preset", preset); err != nil {
		t.Fatalf("render: %v", err)
	}
	assertStory(t, output, 180, 320)
}

func TestRenderRejectsUnknownMode(t *testing.T) {
	smallCanvas(t)
	dir := t.TempDir()
	input := writeFixture(t, dir, "in.png", 50, 50, color.NRGBA{A: 255})

	if _, err := execute(t, "render", input, "--mode", "stretch"); err == nil {
		t.Fatal("expected unsupported mode error")
	}
}

func TestRenderReportsMissingInput(t *testing.T) {
	smallCanvas(t)
	_, err := execute(t, "render", filepath.Join(t.TempDir(), "missing.png"))
	if err == nil || !strings.Contains(err.Error(), "missing.png") {
		t.Fatalf("expected read error naming the file, got %v", err)
	}
}

func TestRenderPromptsForDroppedFile(t *testing.T) {
	smallCanvas(t)
	dir := t.TempDir()
	input := writeFixture(t, dir, "dropped photo.png", 200, 300, color.NRGBA{R: 90, G: 90, B: 255, A: 255})

	out, err := executeWithInput(t, "'"+input+"' \n", "render")
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if !strings.HasPrefix(out, "Drag and drop your image here: ") {
		t.Fatalf("expected prompt, got %q", out)
	}
	want := filepath.Join(dir, "dropped photo_story.jpg")
	if !strings.Contains(out, "Saved to: "+want) {
		t.Fatalf("unexpected output %q", out)
	}
	assertStory(t, want, 90, 160)
}

func TestRenderPromptRejectsEmptyInput(t *testing.T) {
	smallCanvas(t)
	_, err := executeWithInput(t, "\n", "render")
	if err == nil || !strings.Contains(err.Error(), "no input image") {
		t.Fatalf("expected missing input error, got %v", err)
	}
}

func TestSplitStacksBothPhotos(t *testing.T) {
	smallCanvas(t)
	dir := t.TempDir()
	top := writeFixture(t, dir, "top.png", 200, 200, color.NRGBA{R: 255, A: 255})
	bottom := writeFixture(t, dir, "bottom.png", 200, 200, color.NRGBA{B: 255, A: 255})

	out, err := execute(t, "split", top, bottom, "--mode", "fill")
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	want := filepath.Join(dir, "top_layout.jpg")
	if !strings.Contains(out, "Saved to: "+want) {
		t.Fatalf("unexpected output %q", out)
	}
	assertStory(t, want, 90, 160)

	img, err := imaging.Open(want)
	if err != nil {
		t.Fatalf("open layout: %v", err)
	}
	upper := color.NRGBAModel.Convert(img.At(45, 40)).(color.NRGBA)
	lower := color.NRGBAModel.Convert(img.At(45, 120)).(color.NRGBA)
	if upper.R < 200 || lower.B < 200 {
		t.Fatalf("expected red over blue, got %+v over %+v", upper, lower)
	}
}

func TestSplitRequiresTwoInputs(t *testing.T) {
	if _, err := execute(t, "split", "only.png"); err == nil {
		t.Fatal("expected argument error")
	}
}

func TestDefaultOutput(t *testing.T) {
	cases := map[string]string{
		"photo.png":          "photo_story.jpg",
		"dir/IMG_01.HEIC":    "dir/IMG_01_story.jpg",
		"noext":              "noext_story.jpg",
		"/abs/path/pic.jpeg": "/abs/path/pic_story.jpg",
	}
	for in, want := range cases {
		if got := defaultOutput(in, "story"); got != want {
			t.Fatalf("defaultOutput(%q) = %q, want %q", in, got, want)
		}
	}
}
