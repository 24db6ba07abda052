package word

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

type recordValidator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var getRecordValidator = sync.OnceValues(newRecordValidator)

func newRecordValidator() (*recordValidator, error) {
	validate := validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, fmt.Errorf("register default translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if err := validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	}); err != nil {
		return nil, fmt.Errorf("register notblank validation: %w", err)
	}
	if err := registerTranslation(validate, trans, "notblank", "{0} must not be empty"); err != nil {
		return nil, err
	}

	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		w := sl.Current().Interface().(Word)
		if !HasText(w.Definition) && !HasText(w.EnglishDefinition) {
			sl.ReportError(w.Definition, "definition", "Definition", "definition_required", "")
		}
	}, Word{})
	if err := registerTranslation(validate, trans, "definition_required", "either definition or englishDefinition is required"); err != nil {
		return nil, err
	}

	return &recordValidator{validate: validate, translator: trans}, nil
}

func registerTranslation(validate *validator.Validate, trans ut.Translator, tag, text string) error {
	if err := validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
		return ut.Add(tag, text, true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T(tag, fe.Field())
		return t
	}); err != nil {
		return fmt.Errorf("register %s translation: %w", tag, err)
	}
	return nil
}

// Validate checks w against the canonical invariants: a non-blank word, at
// least one definition, and a difficulty within [1,10] when set. It does not
// modify w.
func Validate(w *Word) ValidationResult {
	if w == nil {
		return ValidationResult{Errors: []string{"record is nil"}}
	}

	v, err := getRecordValidator()
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}

	if err := v.validate.Struct(*w); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return ValidationResult{Errors: []string{err.Error()}}
		}
		messages := make([]string, 0, len(validationErrors))
		for _, e := range validationErrors {
			messages = append(messages, e.Translate(v.translator))
		}
		return ValidationResult{Errors: messages}
	}
	return ValidationResult{Valid: true}
}
