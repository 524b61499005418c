package actions

import (
	"strings"

	"ExpeditionFlow/internal/records"

	"github.com/go-playground/validator/v10"
)

// CustomValidator plugs validator/v10 into echo's c.Validate.
type CustomValidator struct {
	validate *validator.Validate
}

func NewValidator() *CustomValidator {
	v := validator.New()
	_ = v.RegisterValidation("static_kind", validateStaticKind)
	_ = v.RegisterValidation("not_blank", validateNotBlank)
	return &CustomValidator{validate: v}
}

func (cv *CustomValidator) Validate(i any) error {
	return cv.validate.Struct(i)
}

func validateStaticKind(fl validator.FieldLevel) bool {
	return records.StaticKind(fl.Field().String()).Valid()
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}
