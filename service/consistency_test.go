package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"worker-transcribe/constant"
	"worker-transcribe/pkg/objectstore"
)

func TestConsistencyScanAgreesAfterRuns(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.upload(t, "ok", "audio/wav")
	if _, err := h.worker.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}
	h.engine.err = errBoom
	h.upload(t, "diarization fails", "audio/wav")
	if _, err := h.worker.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}

	report, err := h.checker.Scan(ctx, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Checked != 2 || report.ValidCount != 2 || report.InvalidCount != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestConsistencyScanReportsMismatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ids := make(map[string]uuid.UUID)
	for _, name := range []string{"missing", "malformed", "lying", "garbage"} {
		file := h.upload(t, name, "audio/wav")
		ids[name] = file.ID
	}
	if _, err := h.worker.ProcessPending(ctx); err != nil {
		t.Fatal(err)
	}

	overwrite := func(name, body string) {
		if err := h.store.Put(ctx, objectstore.MetadataKey(ids[name]), []byte(body), "application/json"); err != nil {
			t.Fatal(err)
		}
	}
	h.store = objectstore.NewMemory()
	h.metadata.MetadataStore = NewMetadataStore(h.store)
	overwrite("malformed", `{"status":"success","has_speakers":"yes"}`)
	overwrite("lying", `{"status":"success","has_speakers":false,"diarization_enabled":true,"detected_speakers":[],"speaker_count":0,"format_conversion_attempted":false,"format_conversion_success":false}`)
	overwrite("garbage", `not json`)

	report, err := h.checker.Scan(ctx, 1000)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if report.Checked != 4 || report.InvalidCount != 4 {
		t.Fatalf("report = %+v", report)
	}

	reasons := make(map[uuid.UUID]string)
	for _, m := range report.Mismatches {
		reasons[m.FileId] = m.Reason
		if m.DiarizationStatus != constant.DiarizationSuccess {
			t.Fatalf("mismatch status = %s", m.DiarizationStatus)
		}
	}
	want := map[string]string{
		"missing":   MismatchMetadataMissing,
		"malformed": MismatchMetadataMalformed,
		"lying":     MismatchHasSpeakers,
		"garbage":   MismatchMetadataUnreadable,
	}
	for name, reason := range want {
		if reasons[ids[name]] != reason {
			t.Fatalf("%s reason = %q, want %q", name, reasons[ids[name]], reason)
		}
	}
}
