package source

import (
	"sort"

	"emails-sync/internal/models"
	"emails-sync/internal/policy"
)

// Apply filters refs by the parts of sel a server search cannot express exactly
// (SEARCH SINCE is day-granular), sorts them by arrival then UID and caps them at sel.Limit.
func Apply(refs []models.MessageRef, sel policy.Selection) []models.MessageRef {
	out := make([]models.MessageRef, 0, len(refs))
	for _, ref := range refs {
		if !sel.Since.IsZero() && ref.ArrivedAt.Before(sel.Since) {
			continue
		}
		out = append(out, ref)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ArrivedAt.Equal(out[j].ArrivedAt) {
			return out[i].ArrivedAt.Before(out[j].ArrivedAt)
		}
		return out[i].UID < out[j].UID
	})

	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out
}
