// Package dupindex records the first submission seen for each fingerprint.
//
// Every backend implements the same contract: CheckAndRecord is atomic with
// respect to concurrent callers, the first writer for a fingerprint wins and
// every later caller receives that writer's record unchanged.
package dupindex

import (
	"strings"

	"github.com/google/uuid"
)

// RecordIDLength is the number of UUID characters kept in a record id.
const RecordIDLength = 8

// NewRecordID returns a short upper-cased id cut from a random UUID.
func NewRecordID() string {
	return strings.ToUpper(uuid.NewString()[:RecordIDLength])
}
