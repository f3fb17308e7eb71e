package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func mustValidator(t *testing.T, max int) Validator {
	t.Helper()
	v, err := NewValidator(max)
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}
	return v
}

func validItem(zoneID int) string {
	return fmt.Sprintf(`{"zoneId":%d,"nodeId":3,"metricType":"ph","value":6.1,"timestamp":1700000000}`, zoneID)
}

func batchBody(items ...string) []byte {
	return []byte(`{"updates":[` + strings.Join(items, ",") + `]}`)
}

func TestValidateAcceptsSingleUpdate(t *testing.T) {
	v := mustValidator(t, 500)
	batch, err := v.ValidateRequest(batchBody(validItem(7)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 1 {
		t.Fatalf("expected 1 update, got %d", len(batch))
	}
	got := batch[0]
	want := TelemetryUpdate{ZoneID: 7, NodeID: 3, MetricType: "ph", Value: 6.1, Timestamp: 1700000000}
	if got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestValidateAcceptsOptionalChannel(t *testing.T) {
	v := mustValidator(t, 10)
	batch, err := v.ValidateRequest(batchBody(
		`{"zoneId":1,"nodeId":2,"channel":"port-a","metricType":"ec","value":-1,"timestamp":0}`,
		`{"zoneId":1,"nodeId":2,"channel":null,"metricType":"temp_air","value":21,"timestamp":1700000001}`,
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch[0].Channel != "port-a" || batch[1].Channel != "" {
		t.Fatalf("unexpected channels: %q %q", batch[0].Channel, batch[1].Channel)
	}
}

func TestValidateRejectsOversizedBatchWithoutItemChecks(t *testing.T) {
	v := mustValidator(t, 500)
	items := make([]json.RawMessage, 501)
	for i := range items {
		// Deliberately invalid: a size rejection must not report any of these.
		items[i] = json.RawMessage(`{"zoneId":-1}`)
	}
	_, err := v.Validate(items)
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	if verr.Kind != KindBatchTooLarge {
		t.Fatalf("expected %s, got %s", KindBatchTooLarge, verr.Kind)
	}
	if len(verr.FieldErrors) != 0 {
		t.Fatalf("expected no field errors, got %d", len(verr.FieldErrors))
	}
	if verr.Size != 501 || verr.MaxUpdates != 500 {
		t.Fatalf("unexpected size info: %+v", verr)
	}
}

func TestValidateAcceptsBatchAtBound(t *testing.T) {
	v := mustValidator(t, 3)
	batch, err := v.ValidateRequest(batchBody(validItem(1), validItem(2), validItem(3)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(batch))
	}
}

func TestValidateRejectsEmptyBatch(t *testing.T) {
	v := mustValidator(t, 500)
	_, err := v.ValidateRequest([]byte(`{"updates":[]}`))
	verr, ok := AsValidationError(err)
	if !ok || verr.Kind != KindBatchEmpty {
		t.Fatalf("expected batch empty, got %v", err)
	}
}

func TestValidateMalformedRequests(t *testing.T) {
	v := mustValidator(t, 5)
	cases := map[string]string{
		"not json":      `{`,
		"not object":    `[1,2]`,
		"missing":       `{}`,
		"null updates":  `{"updates":null}`,
		"updates typed": `{"updates":"nope"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ValidateRequest([]byte(body))
			verr, ok := AsValidationError(err)
			if !ok || verr.Kind != KindMalformed {
				t.Fatalf("expected malformed, got %v", err)
			}
			if _, ok := verr.Fields()["updates"]; !ok {
				t.Fatalf("expected updates path, got %v", verr.Fields())
			}
		})
	}
}

func TestValidateNamesEveryMissingField(t *testing.T) {
	v := mustValidator(t, 5)
	_, err := v.ValidateRequest(batchBody(`{}`))
	verr, ok := AsValidationError(err)
	if !ok || verr.Kind != KindInvalidFields {
		t.Fatalf("expected invalid fields, got %v", err)
	}
	want := []string{
		"updates.0.metricType",
		"updates.0.nodeId",
		"updates.0.timestamp",
		"updates.0.value",
		"updates.0.zoneId",
	}
	got := verr.Paths()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected paths %v, got %v", want, got)
	}
	for _, fe := range verr.FieldErrors {
		if fe.Code != CodeRequired {
			t.Fatalf("expected required code for %s, got %s", fe.Path(), fe.Code)
		}
	}
}

func TestValidateCollectsErrorsAcrossItems(t *testing.T) {
	v := mustValidator(t, 5)
	_, err := v.ValidateRequest(batchBody(
		validItem(1),
		`{"zoneId":0,"nodeId":-4,"metricType":"ph","value":1,"timestamp":1}`,
		`{"zoneId":2,"nodeId":2,"metricType":"`+strings.Repeat("x", 65)+`","value":"high","timestamp":1.5}`,
		`"just a string"`,
	))
	verr, ok := AsValidationError(err)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	codes := map[string]string{}
	for _, fe := range verr.FieldErrors {
		codes[fe.Path()] = fe.Code
	}
	expected := map[string]string{
		"updates.1.zoneId":     CodePositive,
		"updates.1.nodeId":     CodePositive,
		"updates.2.metricType": CodeMaxLength,
		"updates.2.value":      CodeType,
		"updates.2.timestamp":  CodeType,
		"updates.3":            CodeObject,
	}
	if len(codes) != len(expected) {
		t.Fatalf("expected %d errors, got %v", len(expected), codes)
	}
	for path, code := range expected {
		if codes[path] != code {
			t.Fatalf("expected %s=%s, got %q (all: %v)", path, code, codes[path], codes)
		}
	}
}

func TestValidateTypeChecks(t *testing.T) {
	v := mustValidator(t, 5)
	cases := []struct {
		name string
		item string
		path string
		code string
	}{
		{"zone as string", `{"zoneId":"7","nodeId":1,"metricType":"ph","value":1,"timestamp":1}`, "updates.0.zoneId", CodeType},
		{"node as float", `{"zoneId":7,"nodeId":1.2,"metricType":"ph","value":1,"timestamp":1}`, "updates.0.nodeId", CodeType},
		{"metric as number", `{"zoneId":7,"nodeId":1,"metricType":5,"value":1,"timestamp":1}`, "updates.0.metricType", CodeType},
		{"metric empty", `{"zoneId":7,"nodeId":1,"metricType":"","value":1,"timestamp":1}`, "updates.0.metricType", CodeRequired},
		{"value bool", `{"zoneId":7,"nodeId":1,"metricType":"ph","value":true,"timestamp":1}`, "updates.0.value", CodeType},
		{"value null", `{"zoneId":7,"nodeId":1,"metricType":"ph","value":null,"timestamp":1}`, "updates.0.value", CodeRequired},
		{"value overflow", `{"zoneId":7,"nodeId":1,"metricType":"ph","value":1e400,"timestamp":1}`, "updates.0.value", CodeType},
		{"channel too long", `{"zoneId":7,"nodeId":1,"channel":"` + strings.Repeat("c", 65) + `","metricType":"ph","value":1,"timestamp":1}`, "updates.0.channel", CodeMaxLength},
		{"channel typed", `{"zoneId":7,"nodeId":1,"channel":12,"metricType":"ph","value":1,"timestamp":1}`, "updates.0.channel", CodeType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.ValidateRequest(batchBody(tc.item))
			verr, ok := AsValidationError(err)
			if !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(verr.FieldErrors) != 1 {
				t.Fatalf("expected exactly one error, got %+v", verr.FieldErrors)
			}
			fe := verr.FieldErrors[0]
			if fe.Path() != tc.path || fe.Code != tc.code {
				t.Fatalf("expected %s/%s, got %s/%s", tc.path, tc.code, fe.Path(), fe.Code)
			}
		})
	}
}

func TestValidateCountsCharactersNotBytes(t *testing.T) {
	v := mustValidator(t, 1)
	metric := strings.Repeat("é", 64)
	_, err := v.ValidateRequest(batchBody(`{"zoneId":1,"nodeId":1,"metricType":"` + metric + `","value":1,"timestamp":1}`))
	if err != nil {
		t.Fatalf("expected 64 multi-byte characters to pass, got %v", err)
	}
}

func TestNewValidatorRejectsNonPositiveBound(t *testing.T) {
	if _, err := NewValidator(0); err != ErrInvalidMaxUpdates {
		t.Fatalf("expected ErrInvalidMaxUpdates, got %v", err)
	}
	var zero Validator
	if _, err := zero.Validate([]json.RawMessage{json.RawMessage(validItem(1))}); err != ErrInvalidMaxUpdates {
		t.Fatalf("expected zero validator to refuse, got %v", err)
	}
}

func TestBatchGrouping(t *testing.T) {
	batch := Batch{
		{ZoneID: 2, NodeID: 1, MetricType: "ph"},
		{ZoneID: 1, NodeID: 1, MetricType: "ph"},
		{ZoneID: 2, NodeID: 2, MetricType: "ec"},
	}
	zones := batch.Zones()
	if len(zones) != 2 || zones[0] != 2 || zones[1] != 1 {
		t.Fatalf("unexpected zones %v", zones)
	}
	groups := batch.ByZone()
	if len(groups[2]) != 2 || groups[2][1].MetricType != "ec" {
		t.Fatalf("unexpected grouping %+v", groups)
	}
}
