package service

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Converter turns an audio payload into something the diarization engine accepts.
type Converter interface {
	ToWAV(ctx context.Context, audio []byte, ext string) ([]byte, error)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type ffmpegConverter struct {
	binary string
	run    commandRunner
}

func NewFFmpegConverter(binary string) Converter {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &ffmpegConverter{binary: binary, run: execRunner}
}

// ToWAV resamples to 16 kHz mono PCM.
func (c *ffmpegConverter) ToWAV(ctx context.Context, audio []byte, ext string) ([]byte, error) {
	tempDir, err := os.MkdirTemp("", "diarize-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "input"+ext)
	outputPath := filepath.Join(tempDir, "output.wav")
	if err := os.WriteFile(inputPath, audio, 0o600); err != nil {
		return nil, err
	}

	ffmpegArgs := []string{
		"-y",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-f", "wav",
		outputPath,
	}
	zerolog.Ctx(ctx).Debug().Str("cmd", c.binary+" "+strings.Join(ffmpegArgs, " ")).Msg("converting audio for diarization")

	output, err := c.run(ctx, c.binary, ffmpegArgs...)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("output", string(output)).Msg("ffmpeg conversion failed")
		return nil, fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	wav, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty file")
	}
	return wav, nil
}
