package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NextRevision returns the revision that follows prev, in "<generation>-<hex>" form.
func NextRevision(prev string) string {
	gen := RevisionGeneration(prev)
	return strconv.Itoa(gen+1) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// RevisionGeneration returns the numeric prefix of rev, 0 for an empty or malformed one.
func RevisionGeneration(rev string) int {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	gen, err := strconv.Atoi(head)
	if err != nil || gen < 0 {
		return 0
	}
	return gen
}
