package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FieldError reports an invalid value. It unwraps to ErrInvalidValues.
type FieldError struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Key, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrInvalidValues }

// Quote is the price of a set of form values.
type Quote struct {
	Net    decimal.Decimal
	Gross  decimal.Decimal
	Fields []ShopOrderQueueField
}

// CheckRule reports whether rule is a tag the validator understands.
func CheckRule(v *validator.Validate, rule string) (err error) {
	if strings.TrimSpace(rule) == "" {
		return nil
	}
	defer func() {
		if recover() != nil {
			err = ErrInvalidRule
		}
	}()
	_ = v.Var("", rule)
	return nil
}

// Price validates values against the form and sums the contributions of every
// field. Unknown keys are refused.
func Price(v *validator.Validate, form ShopForm, values map[string]string) (Quote, error) {
	known := make(map[string]struct{}, len(form.Fields))
	for _, f := range form.Fields {
		known[f.Key] = struct{}{}
	}
	unknown := make([]string, 0)
	for k := range values {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Quote{}, &FieldError{Key: unknown[0], Reason: "unknown"}
	}

	fields := append([]ShopFormField(nil), form.Fields...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Sort < fields[j].Sort })

	q := Quote{Net: decimal.Zero}
	for _, f := range fields {
		raw := strings.TrimSpace(values[f.Key])
		if raw == "" {
			if f.Required {
				return Quote{}, &FieldError{Key: f.Key, Reason: "required"}
			}
			continue
		}
		if f.Rule != "" {
			if err := v.Var(raw, f.Rule); err != nil {
				return Quote{}, &FieldError{Key: f.Key, Reason: f.Rule}
			}
		}

		amount, err := contribution(f, raw)
		if err != nil {
			return Quote{}, err
		}
		q.Net = q.Net.Add(amount)
		q.Fields = append(q.Fields, ShopOrderQueueField{FieldID: f.ID, Key: f.Key, Value: raw})
	}

	q.Net = q.Net.Round(2)
	q.Gross = q.Net.Mul(hundred.Add(form.VatPercentage)).Div(hundred).Round(2)
	if q.Gross.IsNegative() {
		return Quote{}, ErrNegativeTotal
	}
	return q, nil
}

func contribution(f ShopFormField, raw string) (decimal.Decimal, error) {
	switch f.Type {
	case FieldText:
		return f.Amount, nil
	case FieldCheckbox:
		if !checked(raw) {
			return decimal.Zero, nil
		}
		return f.Amount, nil
	case FieldNumber:
		n, err := decimal.NewFromString(raw)
		if err != nil || n.IsNegative() {
			return decimal.Zero, &FieldError{Key: f.Key, Reason: "number"}
		}
		step := f.Step
		if !step.IsPositive() {
			step = decimal.NewFromInt(1)
		}
		return n.Div(step).Mul(f.Amount), nil
	case FieldSelect:
		for _, o := range f.Options {
			if o.Value == raw {
				return o.Amount, nil
			}
		}
		return decimal.Zero, &FieldError{Key: f.Key, Reason: "option"}
	}
	return decimal.Zero, &FieldError{Key: f.Key, Reason: "type"}
}

func checked(raw string) bool {
	switch strings.ToLower(raw) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
