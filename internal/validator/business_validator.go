package validator

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/edustack/assessment-engine/internal/models"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateAssessmentCreate validates assessment creation business rules
func (bv *BusinessValidator) ValidateAssessmentCreate(req *AssessmentCreateRequest) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Additional business validations
	errors = append(errors, bv.validateAssessmentBusinessRules(req)...)

	return errors
}

// ValidateAssessmentUpdate validates assessment update business rules
func (bv *BusinessValidator) ValidateAssessmentUpdate(req *AssessmentUpdateRequest, existing *models.Assessment) ValidationErrors {
	var errors ValidationErrors

	// Basic struct validation
	errors = append(errors, bv.Validate(req)...)

	// Due date validation
	if req.DueAt != nil && req.DueAt.Before(time.Now()) {
		errors = append(errors, ValidationError{
			Field:   "due_at",
			Message: "must be in the future",
			Value:   req.DueAt,
			Rule:    "business_logic",
		})
	}

	// The time window of running attempts must stay intact
	if req.TimeLimitSeconds != nil && *req.TimeLimitSeconds != existing.TimeLimitSeconds {
		errors = append(errors, ValidationError{
			Field:   "time_limit_seconds",
			Message: "cannot be changed once attempts may exist",
			Value:   *req.TimeLimitSeconds,
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateAttemptStart validates attempt start conditions
func (bv *BusinessValidator) ValidateAttemptStart(dueAt *time.Time, attemptCount int, maxAttempts *int) ValidationErrors {
	var errors ValidationErrors

	// Check due date
	if dueAt != nil && time.Now().After(*dueAt) {
		errors = append(errors, ValidationError{
			Field:   "due_at",
			Message: "assessment deadline has passed",
			Value:   dueAt,
			Rule:    "business_logic",
		})
	}

	// Check attempt limits, nil means unlimited
	if maxAttempts != nil && attemptCount >= *maxAttempts {
		errors = append(errors, ValidationError{
			Field:   "attempts",
			Message: "maximum attempts exceeded",
			Value:   attemptCount,
			Rule:    "business_logic",
		})
	}

	return errors
}

// registerBusinessRules registers custom business rule validators
func (bv *BusinessValidator) registerBusinessRules() {
	// Time limit validation (30 seconds - 5 hours)
	bv.validate.RegisterValidation("time_limit_seconds", func(fl validator.FieldLevel) bool {
		limit := fl.Field().Int()
		return limit >= 30 && limit <= 18000
	})

	// Passing score validation (0-100)
	bv.validate.RegisterValidation("passing_score", func(fl validator.FieldLevel) bool {
		score := fl.Field().Float()
		return score >= 0 && score <= 100
	})

	// Max attempts validation (1-10)
	bv.validate.RegisterValidation("max_attempts", func(fl validator.FieldLevel) bool {
		attempts := fl.Field().Int()
		return attempts >= 1 && attempts <= 10
	})

	// Title validation (1-200 characters)
	bv.validate.RegisterValidation("assessment_title", func(fl validator.FieldLevel) bool {
		title := strings.TrimSpace(fl.Field().String())
		return len(title) >= 1 && len(title) <= 200
	})

	// Due date validation (must be in future)
	bv.validate.RegisterValidation("future_date", func(fl validator.FieldLevel) bool {
		field := fl.Field()

		// Check if field can be nil and is nil (for pointer types)
		if field.Kind() == reflect.Ptr && field.IsNil() {
			return true // Optional field
		}

		// Handle both *time.Time and time.Time
		var dueAt time.Time
		if field.Kind() == reflect.Ptr {
			dueAt = field.Elem().Interface().(time.Time)
		} else {
			dueAt = field.Interface().(time.Time)
		}

		return dueAt.After(time.Now())
	})

	// difficulty level validation
	bv.validate.RegisterValidation("difficulty_level", func(fl validator.FieldLevel) bool {
		level := fl.Field().String()
		validLevels := []models.DifficultyLevel{models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard}
		for _, vl := range validLevels {
			if models.DifficultyLevel(level) == vl {
				return true
			}
		}
		return false
	})
}

// validateAssessmentBusinessRules validates business rules for assessment creation
func (bv *BusinessValidator) validateAssessmentBusinessRules(req *AssessmentCreateRequest) ValidationErrors {
	var errors ValidationErrors

	// Due date validation
	if req.DueAt != nil && req.DueAt.Before(time.Now()) {
		errors = append(errors, ValidationError{
			Field:   "due_at",
			Message: "must be in the future",
			Value:   req.DueAt,
			Rule:    "business_logic",
		})
	}

	// Every question needs exactly one correct option at authoring time
	for i, q := range req.Questions {
		correct := 0
		for _, opt := range q.Options {
			if opt.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].options", i),
				Message: "must have exactly one correct option",
				Value:   correct,
				Rule:    "business_logic",
			})
		}
	}

	return errors
}
