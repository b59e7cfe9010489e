package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns an artifact id of the form {type}_{YYYYMMDD}_{HHMMSS}_{random}.
func NewID(t Type, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", t, now.UTC().Format("20060102_150405"), random)
}

// ParseIDType returns the artifact type encoded in an id.
func ParseIDType(id string) (Type, bool) {
	for _, t := range []Type{TypeRecentChange, TypeFact, TypeDecision, TypeEpisode, TypeIncident} {
		if strings.HasPrefix(id, string(t)+"_") {
			return t, true
		}
	}
	return "", false
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
