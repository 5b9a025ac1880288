package handlers

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

// Operation tokens are unix millis, a dash, then an 8 character suffix
var tokenPattern = regexp.MustCompile(`^\d{13}-[A-Za-z0-9]{8}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("event_source", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "task-domain", "nutrition-domain", "measurement-domain":
			return true
		}
		return false
	})
	validate.RegisterValidation("event_action", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "created", "completed", "uncompleted", "logged", "deleted", "updated":
			return true
		}
		return false
	})
	validate.RegisterValidation("op_token", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		return value == "" || tokenPattern.MatchString(value)
	})
}

type eventRequestRules struct {
	Token  string `validate:"op_token"`
	Source string `validate:"required,event_source"`
	Action string `validate:"required,event_action"`
}

// ValidateEventRequest checks the fields gin's binding tags cannot express
func ValidateEventRequest(req *EventRequest) error {
	return validate.Struct(eventRequestRules{
		Token:  req.Token,
		Source: req.Source,
		Action: req.Action,
	})
}
