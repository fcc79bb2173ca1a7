package validation

import (
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/irfndi/esp-selector-go/internal/models"
)

var pumpIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,127}$`)

func objectiveValidator(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case models.Objective:
		return v.Valid()
	case string:
		return models.Objective(v).Valid()
	default:
		return false
	}
}

func pumpIDValidator(fl validator.FieldLevel) bool {
	val, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return pumpIDRegex.MatchString(val)
}

func finiteValidator(fl validator.FieldLevel) bool {
	f := fl.Field()
	if f.Kind() != reflect.Float64 && f.Kind() != reflect.Float32 {
		return false
	}
	v := f.Float()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidPumpID reports whether id is an acceptable pump identifier.
func ValidPumpID(id string) bool {
	return pumpIDRegex.MatchString(id)
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}
