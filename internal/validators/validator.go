package validators

import (
	"sync"

	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	validate *validator.Validate
)

// Engine returns the process-wide validator with the project's custom rules registered
func Engine() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
			return models.NotificationType(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("notification_status", func(fl validator.FieldLevel) bool {
			return models.NotificationStatus(fl.Field().String()).Valid()
		})
	})
	return validate
}

// CustomValidator adapts the validator to echo's Validator interface
type CustomValidator struct {
	validator *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{validator: Engine()}
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
