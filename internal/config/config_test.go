package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dunamismax/storyframe/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STORY_TARGET_WIDTH", "STORY_TARGET_HEIGHT", "STORY_JPEG_QUALITY", "STORY_DEFAULT_MODE", "SESSION_TTL", "PORT", "UPLOAD_RETENTION_DAYS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Render.TargetWidth != 2160 || cfg.Render.TargetHeight != 3840 {
		t.Fatalf("expected 2160x3840 canvas, got %dx%d", cfg.Render.TargetWidth, cfg.Render.TargetHeight)
	}
	if cfg.Render.JPEGQuality != 95 {
		t.Fatalf("expected quality 95, got %d", cfg.Render.JPEGQuality)
	}
	if cfg.Render.DefaultMode != domain.ModeFitBlurred {
		t.Fatalf("expected fit mode by default, got %s", cfg.Render.DefaultMode)
	}
	if cfg.Session.TTL != 15*time.Minute {
		t.Fatalf("expected 15m session ttl, got %s", cfg.Session.TTL)
	}
	if cfg.Bot.HealthAddr != ":8080" {
		t.Fatalf("expected bot health on :8080, got %s", cfg.Bot.HealthAddr)
	}
	if cfg.Storage.UploadRetentionDays != 7 {
		t.Fatalf("expected uploads to expire after 7 days, got %d", cfg.Storage.UploadRetentionDays)
	}
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("STORY_TARGET_WIDTH", "1080")
	t.Setenv("STORY_TARGET_HEIGHT", "1920")
	t.Setenv("STORY_DEFAULT_MODE", "crop")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("SESSION_BACKEND", "Redis")
	t.Setenv("PORT", "9000")
	t.Setenv("STORY_JPEG_QUALITY", "not-a-number")
	t.Setenv("UPLOAD_RETENTION_DAYS", "0")

	cfg := Load()
	settings := cfg.Render.Settings()
	if settings.Canvas != (domain.Dimensions{Width: 1080, Height: 1920}) {
		t.Fatalf("unexpected canvas %s", settings.Canvas)
	}
	if cfg.Render.DefaultMode != domain.ModeFill {
		t.Fatalf("expected crop alias to select fill, got %s", cfg.Render.DefaultMode)
	}
	if cfg.Session.TTL != 90*time.Second || cfg.Session.Backend != SessionBackendRedis {
		t.Fatalf("unexpected session config %+v", cfg.Session)
	}
	if cfg.Bot.HealthAddr != ":9000" {
		t.Fatalf("expected :9000, got %s", cfg.Bot.HealthAddr)
	}
	if cfg.Render.JPEGQuality != 95 {
		t.Fatalf("expected invalid quality to fall back to 95, got %d", cfg.Render.JPEGQuality)
	}
	if cfg.Storage.UploadRetentionDays != 0 {
		t.Fatalf("expected upload expiry disabled, got %d", cfg.Storage.UploadRetentionDays)
	}
}

func TestLoadRenderPresetOverlaysBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preset.yaml")
	body := "target_width: 1080\ntarget_height: 1920\ndefault_mode: fill\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	base := RenderConfig{
		TargetWidth:   2160,
		TargetHeight:  3840,
		JPEGQuality:   95,
		BlurSigma:     50,
		BlurDownscale: 8,
		DefaultMode:   domain.ModeFitBlurred,
	}
	preset, err := LoadRenderPreset(path, base)
	if err != nil {
		t.Fatalf("load preset: %v", err)
	}
	if preset.TargetWidth != 1080 || preset.TargetHeight != 1920 {
		t.Fatalf("expected 1080x1920, got %dx%d", preset.TargetWidth, preset.TargetHeight)
	}
	if preset.JPEGQuality != 95 || preset.BlurSigma != 50 {
		t.Fatalf("expected unset keys to keep base values, got %+v", preset)
	}
	if preset.DefaultMode != domain.ModeFill {
		t.Fatalf("expected fill, got %s", preset.DefaultMode)
	}
}

func TestLoadRenderPresetRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	base := RenderConfig{TargetWidth: 2160, TargetHeight: 3840, DefaultMode: domain.ModeFitBlurred}

	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("canvas_width: 10\n"), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	if _, err := LoadRenderPreset(unknown, base); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}

	badMode := filepath.Join(dir, "mode.yaml")
	if err := os.WriteFile(badMode, []byte("default_mode: stretch\n"), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	if _, err := LoadRenderPreset(badMode, base); err == nil {
		t.Fatal("expected unsupported mode to be rejected")
	}

	zero := filepath.Join(dir, "zero.yaml")
	if err := os.WriteFile(zero, []byte("target_width: 0\n"), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	if _, err := LoadRenderPreset(zero, base); err == nil {
		t.Fatal("expected zero width to be rejected")
	}

	if _, err := LoadRenderPreset(filepath.Join(dir, "missing.yaml"), base); err == nil {
		t.Fatal("expected missing file error")
	}
}
