// Package results persists one ResultRecord per submission.
//
// Records hold the verdict and counts only. Decoded field values are never
// written. fraud_verdict holds the verdict's detail line, for example
// "CLEAN - no prior record".
package results

import (
	"context"

	"idshield/internal/shield/models"
)

const sessionColumns = `session_id, id_hash, fraud_verdict, is_duplicate, mode, field_count, created_at`

// Nop discards records. Used when no result backend is configured.
type Nop struct{}

func (Nop) Save(context.Context, models.ResultRecord) error { return nil }

func (Nop) Health(context.Context) error { return nil }
