package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dunamismax/storyframe/internal/domain"
	"gopkg.in/yaml.v3"
)

// LoadRenderPreset overlays the render settings in a YAML file onto base.
// Keys missing from the file keep the value from base.
//
//	target_width: 1080
//	target_height: 1920
//	jpeg_quality: 90
//	default_mode: fill
func LoadRenderPreset(path string, base RenderConfig) (RenderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RenderConfig{}, fmt.Errorf("read render preset: %w", err)
	}

	preset := base
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&preset); err != nil && !errors.Is(err, io.EOF) {
		return RenderConfig{}, fmt.Errorf("parse render preset %s: %w", path, err)
	}

	mode, err := domain.ParseLayoutMode(string(preset.DefaultMode), base.DefaultMode)
	if err != nil {
		return RenderConfig{}, fmt.Errorf("render preset %s: %w", path, err)
	}
	preset.DefaultMode = mode
	if !preset.Settings().Canvas.Valid() {
		return RenderConfig{}, fmt.Errorf("render preset %s: invalid canvas %dx%d", path, preset.TargetWidth, preset.TargetHeight)
	}
	return preset, nil
}
