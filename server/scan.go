package server

import (
	"encoding/json"
	"io"

	"worker-transcribe/config"
	"worker-transcribe/service"
)

// RunScan runs one consistency scan and writes the report to out as indented JSON.
func RunScan(cfg *config.Config, limit int, out io.Writer) error {
	ctx := setupLogger(cfg)

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.close(ctx)

	report, err := service.NewConsistencyChecker(c.repo, c.metadata).Scan(ctx, limit)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
