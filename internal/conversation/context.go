package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/fitcoachhq/fitcoach-ai-platform/pkg/logging"
)

// Context is the structured health profile extracted over the conversation.
// Pointer fields distinguish "not yet known" from a real value; the model
// clears a field by emitting an explicit JSON null.
type Context struct {
	Age               *float64 `json:"age"`
	Height            *float64 `json:"height"`
	Weight            *float64 `json:"weight"`
	BMI               *float64 `json:"bmi"`
	BMICategory       *string  `json:"bmiCategory"`
	MedicalConditions *string  `json:"medicalConditions"`
	SuggestedCourse   *string  `json:"suggestedCourse"`
	PriceQuote        *string  `json:"priceQuote"`
	Stage             Stage    `json:"stage"`
}

// NewContext returns the empty profile at the greeting stage.
func NewContext() Context {
	return Context{Stage: StageGreeting}
}

// ApplyPatch merges a partial context object emitted by the model. Keys absent
// from the patch leave the field untouched; an explicit JSON null clears it.
// A stage outside the enum keeps the previous stage.
func (c *Context) ApplyPatch(raw json.RawMessage, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	if len(raw) == 0 {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("conversation: failed to decode context patch: %w", err)
	}

	if err := patchFloat(fields, "age", &c.Age); err != nil {
		return err
	}
	if err := patchFloat(fields, "height", &c.Height); err != nil {
		return err
	}
	if err := patchFloat(fields, "weight", &c.Weight); err != nil {
		return err
	}
	if err := patchFloat(fields, "bmi", &c.BMI); err != nil {
		return err
	}
	if err := patchString(fields, "bmiCategory", &c.BMICategory); err != nil {
		return err
	}
	if err := patchString(fields, "medicalConditions", &c.MedicalConditions); err != nil {
		return err
	}
	if err := patchString(fields, "suggestedCourse", &c.SuggestedCourse); err != nil {
		return err
	}
	if err := patchString(fields, "priceQuote", &c.PriceQuote); err != nil {
		return err
	}

	if rawStage, ok := fields["stage"]; ok && !isNull(rawStage) {
		var s string
		if err := json.Unmarshal(rawStage, &s); err != nil {
			return fmt.Errorf("conversation: failed to decode stage: %w", err)
		}
		stage, err := ParseStage(s)
		if err != nil {
			logger.Warn("model emitted unknown stage, keeping previous", "stage", s, "current", c.Stage)
		} else {
			if !expectedTransition(c.Stage, stage) {
				logger.Info("unusual stage transition", "from", c.Stage, "to", stage)
			}
			c.Stage = stage
		}
	}
	return nil
}

// IsQualified reports whether the lead finished the funnel with a quote.
func (c *Context) IsQualified() bool {
	return c.Stage == StageFinalizing && c.PriceQuote != nil && *c.PriceQuote != ""
}

func patchFloat(fields map[string]json.RawMessage, key string, dst **float64) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if isNull(raw) {
		*dst = nil
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("conversation: failed to decode %s: %w", key, err)
	}
	*dst = &v
	return nil
}

func patchString(fields map[string]json.RawMessage, key string, dst **string) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if isNull(raw) {
		*dst = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("conversation: failed to decode %s: %w", key, err)
	}
	*dst = &v
	return nil
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
