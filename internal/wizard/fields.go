package wizard

import (
	"fmt"
	"strings"

	"assessline/internal/fault"
	"assessline/internal/framework"
	"assessline/internal/status"
)

const (
	FieldBoolean = "boolean"
	FieldText    = "text"
	FieldChoice  = "choice"
)

const (
	OptionConfirm                   = "confirm"
	OptionChangeToAchieved          = "change_to_achieved"
	OptionChangeToPartiallyAchieved = "change_to_partially_achieved"
	OptionChangeToNotAchieved       = "change_to_not_achieved"
)

// DefaultMaxWords bounds free-text answers when the caller configures no
// limit of its own.
const DefaultMaxWords = 500

// Field is one entry of a step's generated form schema. Bucket and Ordinal
// identify an indicator's 1-based position within its bucket so the
// presentation layer can disambiguate statements with identical text.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type" enum:"boolean,text,choice"`
	Label    string   `json:"label,omitempty"`
	Required bool     `json:"required,omitempty"`
	Choices  []string `json:"choices,omitempty"`
	MaxWords int      `json:"max_words,omitempty"`
	Bucket   string   `json:"bucket,omitempty"`
	Ordinal  int      `json:"ordinal,omitempty"`
}

// FieldOptions parameterise schema generation.
type FieldOptions struct {
	// CurrentStatus is the already-computed outcome status; the matching
	// change option is excluded since a user cannot change to the status
	// already held. Only consulted for the confirmation stage.
	CurrentStatus string
	MaxWords      int
}

func (o FieldOptions) maxWords() int {
	if o.MaxWords > 0 {
		return o.MaxWords
	}
	return DefaultMaxWords
}

// FieldsFor emits the field schema for an outcome at the given stage. An
// outcome with empty buckets yields an empty schema, never an error; only an
// unknown stage fails.
func FieldsFor(o *framework.Outcome, stage Stage, opts FieldOptions) ([]Field, error) {
	switch stage {
	case StageIndicators:
		return IndicatorFields(o, opts), nil
	case StageConfirmation:
		return ConfirmationFields(o, opts), nil
	case StageSection:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}

// IndicatorFields returns one boolean field per indicator statement, named
// bucket_code, with not-achieved statements paired with a free-text comment
// field for justification.
func IndicatorFields(o *framework.Outcome, opts FieldOptions) []Field {
	var fields []Field
	for _, bucket := range []string{framework.BucketAchieved, framework.BucketPartiallyAchieved, framework.BucketNotAchieved} {
		statements := o.Indicators.Bucket(bucket)
		for ordinal, code := range framework.SortedCodes(statements) {
			name := bucket + "_" + code
			fields = append(fields, Field{
				Name:    name,
				Type:    FieldBoolean,
				Label:   statements[code],
				Bucket:  bucket,
				Ordinal: ordinal + 1,
			})
			if bucket == framework.BucketNotAchieved {
				fields = append(fields, Field{
					Name:     name + "_comment",
					Type:     FieldText,
					Label:    "Explain why this does not apply",
					MaxWords: opts.maxWords(),
					Bucket:   bucket,
					Ordinal:  ordinal + 1,
				})
			}
		}
	}
	return fields
}

// ConfirmationFields returns the confirm-or-override schema: the
// confirm_outcome choice (excluding the option matching the current status,
// and offering change_to_partially_achieved only when that bucket is
// non-empty), a required supporting_comments field, and one optional
// justification field per remaining change option.
func ConfirmationFields(o *framework.Outcome, opts FieldOptions) []Field {
	options := []string{OptionConfirm}
	var changes []string
	for _, opt := range []string{OptionChangeToAchieved, OptionChangeToPartiallyAchieved, OptionChangeToNotAchieved} {
		if ChangeOptionStatus(opt) == opts.CurrentStatus {
			continue
		}
		if opt == OptionChangeToPartiallyAchieved && len(o.Indicators.PartiallyAchieved) == 0 {
			continue
		}
		options = append(options, opt)
		changes = append(changes, opt)
	}
	fields := []Field{
		{Name: "confirm_outcome", Type: FieldChoice, Label: "Confirm the outcome status", Required: true, Choices: options},
		{Name: "supporting_comments", Type: FieldText, Label: "Supporting comments", Required: true, MaxWords: opts.maxWords()},
	}
	for _, opt := range changes {
		fields = append(fields, Field{
			Name:     opt + "_comment",
			Type:     FieldText,
			Label:    "Justify the change",
			MaxWords: opts.maxWords(),
		})
	}
	return fields
}

// ChangeOptionStatus maps a change option to the display status it selects.
// Returns "" for confirm or an unknown option.
func ChangeOptionStatus(option string) string {
	switch option {
	case OptionChangeToAchieved:
		return status.Achieved
	case OptionChangeToPartiallyAchieved:
		return status.PartiallyAchieved
	case OptionChangeToNotAchieved:
		return status.NotAchieved
	}
	return ""
}

// WordCount splits on runs of whitespace.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// Check validates a submitted value against the field schema.
func (f Field) Check(value any) error {
	switch f.Type {
	case FieldText:
		text, _ := value.(string)
		if f.Required && strings.TrimSpace(text) == "" {
			return fault.ValidationError{Field: f.Name, Msg: "is required"}
		}
		if f.MaxWords > 0 {
			if count := WordCount(text); count > f.MaxWords {
				return fault.ValidationError{Field: f.Name, Limit: f.MaxWords, Actual: count}
			}
		}
	case FieldChoice:
		choice, _ := value.(string)
		if choice == "" {
			if f.Required {
				return fault.ValidationError{Field: f.Name, Msg: "is required"}
			}
			return nil
		}
		for _, opt := range f.Choices {
			if choice == opt {
				return nil
			}
		}
		return fault.ValidationError{Field: f.Name, Msg: fmt.Sprintf("must be one of %s", strings.Join(f.Choices, ", "))}
	case FieldBoolean:
		switch value.(type) {
		case nil, bool:
		case string:
		default:
			return fault.ValidationError{Field: f.Name, Msg: "must be a boolean"}
		}
	}
	return nil
}

// CheckAll validates a whole submission against a schema, keyed by field
// name. Unknown submitted keys are ignored; the schema is authoritative.
func CheckAll(fields []Field, values map[string]any) error {
	for _, f := range fields {
		if err := f.Check(values[f.Name]); err != nil {
			return err
		}
	}
	return nil
}
