package domain

import (
	"fmt"
	"time"
)

// UnitFailure records one (user, product, date) unit that could not be
// processed during a pass.
type UnitFailure struct {
	UserID    int64     `json:"user_id"`
	ProductID int64     `json:"product_id"`
	Date      time.Time `json:"date"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
}

func (f UnitFailure) String() string {
	return fmt.Sprintf("user=%d product=%d date=%s stage=%s: %s",
		f.UserID, f.ProductID, f.Date.Format(DateLayout), f.Stage, f.Reason)
}

// PassReport summarises one run_pass invocation. Processed, Skipped and
// Errors count (user, product, date) units.
type PassReport struct {
	AsOf      time.Time     `json:"as_of"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Failures  []UnitFailure `json:"failures,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Merge folds a partial report into r.
func (r *PassReport) Merge(o PassReport) {
	r.Processed += o.Processed
	r.Skipped += o.Skipped
	r.Errors += o.Errors
	r.Failures = append(r.Failures, o.Failures...)
}

// Fail counts an errored unit and keeps its reason.
func (r *PassReport) Fail(userID, productID int64, date time.Time, stage string, err error) {
	r.Errors++
	r.Failures = append(r.Failures, UnitFailure{
		UserID:    userID,
		ProductID: productID,
		Date:      DateOf(date),
		Stage:     stage,
		Reason:    err.Error(),
	})
}
