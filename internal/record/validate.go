// Validates required record fields.

package record

import (
	"fmt"
	"sort"
	"strings"
)

// FieldErrors maps a JSON field name to a user facing error message.
//
// An empty FieldErrors means the record is valid.
type FieldErrors map[string]string

// Error implements error so FieldErrors can be returned and wrapped.
func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, f[k])
	}
	return strings.Join(msgs, " ")
}

type field struct {
	key   string
	label string
	value string
}

// requireFields checks the fields in order and reports each blank one.
func requireFields(fields ...field) FieldErrors {
	errs := FieldErrors{}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			errs[f.key] = fmt.Sprintf("Field '%s' can't be blank!", f.label)
		}
	}
	return errs
}
