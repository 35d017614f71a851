package wizard

import (
	"errors"
	"reflect"
	"testing"

	"assessline/internal/fault"
	"assessline/internal/framework"
	"assessline/internal/status"
)

func outcome(t *testing.T, code string) *framework.Outcome {
	t.Helper()
	o, err := framework.Default().Outcome(code)
	if err != nil {
		t.Fatalf("outcome %s: %v", code, err)
	}
	return o
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func TestIndicatorFieldNaming(t *testing.T) {
	fields := IndicatorFields(outcome(t, "A1.b"), FieldOptions{})
	want := []string{
		"achieved_A1.b.4",
		"achieved_A1.b.5",
		"achieved_A1.b.6",
		"partially-achieved_A1.b.2",
		"partially-achieved_A1.b.3",
		"not-achieved_A1.b.1",
		"not-achieved_A1.b.1_comment",
	}
	if got := fieldNames(fields); !reflect.DeepEqual(got, want) {
		t.Fatalf("field names:\n got %v\nwant %v", got, want)
	}
	for _, f := range fields {
		if f.Name == "not-achieved_A1.b.1_comment" {
			if f.Type != FieldText || f.MaxWords != DefaultMaxWords {
				t.Fatalf("comment field: %+v", f)
			}
			continue
		}
		if f.Type != FieldBoolean {
			t.Fatalf("indicator field %s should be boolean, got %s", f.Name, f.Type)
		}
	}
}

func TestIndicatorFieldOrdinals(t *testing.T) {
	fields := IndicatorFields(outcome(t, "A1.b"), FieldOptions{})
	byName := map[string]Field{}
	for _, f := range fields {
		byName[f.Name] = f
	}
	// Ordinals restart per bucket so identical statement text stays
	// addressable.
	if f := byName["achieved_A1.b.5"]; f.Bucket != framework.BucketAchieved || f.Ordinal != 2 {
		t.Fatalf("achieved_A1.b.5: %+v", f)
	}
	if f := byName["partially-achieved_A1.b.2"]; f.Ordinal != 1 {
		t.Fatalf("partially-achieved_A1.b.2: %+v", f)
	}
	if f := byName["not-achieved_A1.b.1"]; f.Ordinal != 1 {
		t.Fatalf("not-achieved_A1.b.1: %+v", f)
	}
}

func TestConfirmationOptionsExcludeCurrentStatus(t *testing.T) {
	fields := ConfirmationFields(outcome(t, "A1.b"), FieldOptions{CurrentStatus: status.Achieved})
	if fields[0].Name != "confirm_outcome" {
		t.Fatalf("first field should be confirm_outcome, got %s", fields[0].Name)
	}
	want := []string{OptionConfirm, OptionChangeToPartiallyAchieved, OptionChangeToNotAchieved}
	if !reflect.DeepEqual(fields[0].Choices, want) {
		t.Fatalf("choices: got %v, want %v", fields[0].Choices, want)
	}
}

func TestConfirmationOmitsPartialWhenBucketEmpty(t *testing.T) {
	// A1.a declares no partially-achieved statements, so the change
	// option would be meaningless.
	fields := ConfirmationFields(outcome(t, "A1.a"), FieldOptions{CurrentStatus: status.NotAchieved})
	want := []string{OptionConfirm, OptionChangeToAchieved}
	if !reflect.DeepEqual(fields[0].Choices, want) {
		t.Fatalf("choices: got %v, want %v", fields[0].Choices, want)
	}
	names := fieldNames(fields)
	for _, n := range names {
		if n == OptionChangeToPartiallyAchieved+"_comment" {
			t.Fatalf("unexpected justification field for omitted option: %v", names)
		}
	}
}

func TestConfirmationJustificationFields(t *testing.T) {
	fields := ConfirmationFields(outcome(t, "A1.b"), FieldOptions{CurrentStatus: status.Achieved, MaxWords: 50})
	names := fieldNames(fields)
	want := []string{
		"confirm_outcome",
		"supporting_comments",
		OptionChangeToPartiallyAchieved + "_comment",
		OptionChangeToNotAchieved + "_comment",
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("field names:\n got %v\nwant %v", names, want)
	}
	for _, f := range fields[1:] {
		if f.MaxWords != 50 {
			t.Fatalf("field %s should use configured limit, got %d", f.Name, f.MaxWords)
		}
	}
	if !fields[1].Required {
		t.Fatalf("supporting_comments must be required")
	}
}

func TestWordLimitEnforced(t *testing.T) {
	f := Field{Name: "supporting_comments", Type: FieldText, MaxWords: 3}
	if err := f.Check("one two three"); err != nil {
		t.Fatalf("within limit: %v", err)
	}
	err := f.Check("one two three four")
	var ve fault.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ve.Limit != 3 || ve.Actual != 4 {
		t.Fatalf("limit detail: %+v", ve)
	}
}

func TestChoiceMembership(t *testing.T) {
	f := Field{Name: "confirm_outcome", Type: FieldChoice, Required: true, Choices: []string{OptionConfirm, OptionChangeToNotAchieved}}
	if err := f.Check(OptionConfirm); err != nil {
		t.Fatalf("valid choice: %v", err)
	}
	if err := f.Check("change_to_achieved"); err == nil {
		t.Fatalf("expected rejection of unlisted choice")
	}
	if err := f.Check(nil); err == nil {
		t.Fatalf("expected required error for missing choice")
	}
}

func TestCheckAllIgnoresUnknownKeys(t *testing.T) {
	fields := []Field{{Name: "a", Type: FieldBoolean}}
	err := CheckAll(fields, map[string]any{"a": true, "stray": 42})
	if err != nil {
		t.Fatalf("unknown keys should be ignored: %v", err)
	}
	if err := CheckAll(fields, map[string]any{"a": 42}); err == nil {
		t.Fatalf("expected boolean type error")
	}
}

func TestChangeOptionStatus(t *testing.T) {
	if got := ChangeOptionStatus(OptionChangeToPartiallyAchieved); got != status.PartiallyAchieved {
		t.Fatalf("got %q", got)
	}
	if got := ChangeOptionStatus(OptionConfirm); got != "" {
		t.Fatalf("confirm maps to no status, got %q", got)
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("  spaced   out words "); got != 3 {
		t.Fatalf("got %d", got)
	}
	if got := WordCount(""); got != 0 {
		t.Fatalf("got %d", got)
	}
}
