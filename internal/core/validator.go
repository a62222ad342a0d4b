package core

import (
	"errors"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"paygate/internal/types"
)

// SupportedCurrencies are the ISO 4217 codes both providers settle for this
// deployment.
var SupportedCurrencies = map[string]struct{}{
	"INR": {}, "USD": {}, "EUR": {}, "GBP": {}, "SGD": {}, "AED": {},
}

var planIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Validator wraps go-playground/validator with the PayGate tags:
//
//	currency   upper-case ISO 4217 code in SupportedCurrencies
//	plan_id    lower-case slug, at most 64 chars
//	note_keys  map keys must not shadow the reserved linkage keys
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		_, ok := SupportedCurrencies[fl.Field().String()]
		return ok
	}))
	must(v.RegisterValidation("plan_id", func(fl validator.FieldLevel) bool {
		return planIDPattern.MatchString(fl.Field().String())
	}))
	must(v.RegisterValidation("note_keys", func(fl validator.FieldLevel) bool {
		iter := fl.Field().MapRange()
		for iter.Next() {
			switch iter.Key().String() {
			case types.MetaSubjectID, types.MetaTenantID, types.MetaOrderID:
				return false
			}
		}
		return true
	}))

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or an AppError listing each failed field. A
// currency failure uses the dedicated currency code.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	code := types.ErrCodeValidationInvalidArgument
	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
		switch fe.Tag() {
		case "currency":
			code = types.ErrCodeValidationInvalidCurrency
		case "required", "required_without":
			if code == types.ErrCodeValidationInvalidArgument {
				code = types.ErrCodeValidationMissingField
			}
		}
	}
	return types.NewAppErrorWithDetails(code, "request validation failed", err, map[string]any{"fields": fields})
}
