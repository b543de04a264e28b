package fee

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/feeledger/core"
)

var (
	monthTag  = "month"
	monthText = "must be a month name (e.g. March or Mar)"
)

// InitValidators registers the ledger's custom validation tags.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(monthTag, monthValidation)
	core.RegisterCustomTranslation(validate, translator, monthTag, monthText)
}

// monthValidation accepts canonical month names and their abbreviations.
func monthValidation(fl validator.FieldLevel) bool {
	_, err := ParseMonth(fl.Field().String())
	return err == nil
}
