package handler

import (
	"errors"
	"fmt"
	"github.com/go-playground/validator/v10"
	"outreach/pkg/errutil"
	"strings"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errutil.ValidationError(err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return errutil.ValidationError(errors.New(strings.Join(msgs, "; ")))
}
