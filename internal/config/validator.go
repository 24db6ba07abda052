package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
)

func newValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, nil, fmt.Errorf("failed to register default translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterStructValidation(validateStoreConfig, StoreConfig{})
	if err := validate.RegisterTranslation("store_directory", trans, func(ut ut.Translator) error {
		return ut.Add("store_directory", "{0} is required when the yaml store driver is used", true)
	}, func(ut ut.Translator, fe validator.FieldError) string {
		t, _ := ut.T("store_directory", strings.TrimPrefix(fe.Namespace(), "Config."))
		return t
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to register store_directory translation: %w", err)
	}

	return validate, trans, nil
}

func validateStoreConfig(sl validator.StructLevel) {
	store := sl.Current().Interface().(StoreConfig)
	if store.Driver == StoreDriverYAML && strings.TrimSpace(store.YAML.Directory) == "" {
		sl.ReportError(store.YAML.Directory, "yaml.directory", "Directory", "store_directory", "")
	}
}
