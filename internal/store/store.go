// Package store persists reports. Text is stored byte for byte, so shaped
// right-to-left summaries keep their directional marks.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"call-review-go/internal/types"
)

var ErrNotFound = errors.New("report not found")

// Store is get/put persistence for reports.
type Store interface {
	Put(ctx context.Context, rep types.Report) error
	Get(ctx context.Context, callID string) (types.Report, error)
}

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

func checkID(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("invalid call id %q", id)
	}
	return nil
}

// failedStages lists stages that did not finish ok, in report order.
func failedStages(rep types.Report) []string {
	var out []string
	for _, s := range types.Stages {
		if st, ok := rep.StageStatus[s]; ok && st.Status != types.StatusOK {
			out = append(out, fmt.Sprintf("%s:%s", s, st.Status))
		}
	}
	return out
}
