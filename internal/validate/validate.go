// Package validate checks configuration structs against their declared
// `validate` tags and reports failures per field, in English.
//
// Besides the stock validator tags it understands httpurl: an absolute
// http or https URL with a host.
package validate

import (
	"errors"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   = validator.New(validator.WithRequiredStructEnabled())
	translator ut.Translator
)

func init() {
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("validate: no en translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	if err := validate.RegisterValidation("httpurl", isHTTPURL); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(yamlName)
}

// yamlName reports fields by their yaml key, the name users see in batch
// files.
func yamlName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	}

	return name
}

func isHTTPURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}

	return u.Scheme == "http" || u.Scheme == "https"
}

// messages replaces the stock translation for tags config structs use.
var messages = map[string]func(validator.FieldError) string{
	"required": func(validator.FieldError) string { return "This field is required" },
	"gte":      func(fe validator.FieldError) string { return "must be " + fe.Param() + " or more" },
	"lte":      func(fe validator.FieldError) string { return "must be " + fe.Param() + " or less" },
	"httpurl":  func(validator.FieldError) string { return "must be an absolute http or https url" },
}

func message(fe validator.FieldError) string {
	if fn, ok := messages[fe.Tag()]; ok {
		return fn(fe)
	}

	return fe.Translate(translator)
}

// Check validates val against its declared tags. It returns FieldErrors
// when one or more fields fail.
func Check(val any) error {
	err := validate.Struct(val)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(FieldErrors, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Err: message(fe)})
	}

	return fields
}

// FieldError is the failure of a single field.
type FieldError struct {
	Field string `yaml:"field"`
	Err   string `yaml:"error"`
}

// FieldErrors collects every failed field of one struct.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, f := range fe {
		parts[i] = f.Field + ": " + f.Err
	}

	return strings.Join(parts, "; ")
}

// Fields returns the failed fields keyed by name.
func (fe FieldErrors) Fields() map[string]string {
	m := make(map[string]string, len(fe))
	for _, f := range fe {
		m[f.Field] = f.Err
	}

	return m
}

// GetFieldErrors extracts FieldErrors from err, or returns nil.
func GetFieldErrors(err error) FieldErrors {
	var fe FieldErrors
	if !errors.As(err, &fe) {
		return nil
	}

	return fe
}
