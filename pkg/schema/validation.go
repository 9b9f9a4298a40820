package schema

import "fmt"

// ValidationSeverity ranks a finding. Warnings never fail validation.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding located within a bundle or fragment.
// Path is a dotted locator like "steps[3]" or "edges[0]".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult collects findings from every check that ran.
type ValidationResult struct {
	Issues []ValidationIssue `json:"issues,omitempty"`
}

func (r *ValidationResult) add(sev ValidationSeverity, path, code, message string) {
	r.Issues = append(r.Issues, ValidationIssue{
		Path:     path,
		Code:     code,
		Message:  message,
		Severity: sev,
	})
}

// AddError records a finding that makes the document invalid.
func (r *ValidationResult) AddError(path, code, message string) {
	r.add(SeverityError, path, code, message)
}

// AddWarning records a finding the caller may ignore.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(SeverityWarning, path, code, message)
}

// Merge appends another result's findings.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Issues = append(r.Issues, other.Issues...)
	}
}

// Errors returns the error-severity findings.
func (r *ValidationResult) Errors() []ValidationIssue {
	return r.bySeverity(SeverityError)
}

// Warnings returns the warning-severity findings.
func (r *ValidationResult) Warnings() []ValidationIssue {
	return r.bySeverity(SeverityWarning)
}

func (r *ValidationResult) bySeverity(sev ValidationSeverity) []ValidationIssue {
	var out []ValidationIssue
	for _, issue := range r.Issues {
		if issue.Severity == sev {
			out = append(out, issue)
		}
	}
	return out
}

// Valid reports whether no error-severity finding was recorded.
func (r *ValidationResult) Valid() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return true
}

// ToError folds the result into a CanvasError, or nil when valid. The
// error Details carry the full finding lists for callers that surface them.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	errs := r.Errors()
	msg := errs[0].Message
	if len(errs) > 1 {
		msg = fmt.Sprintf("validation failed with %d errors", len(errs))
	}

	warns := r.Warnings()
	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(errs),
			"warning_count": len(warns),
			"errors":        errs,
			"warnings":      warns,
		})
}
