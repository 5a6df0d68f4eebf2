package mirror

import (
	"reflect"

	"taskrelay/pkg/task"
)

// DiffMessaging computes the bookkeeping write for a pass: every field
// with a value in next is set, every field that had a value in old but not
// in next is unset.
func DiffMessaging(old, next task.Messaging) task.MessagingPatch {
	oldVals := old.Values()
	newVals := next.Values()

	patch := task.MessagingPatch{Set: map[task.Field]any{}}
	for _, f := range task.AllFields {
		if v, ok := newVals[f]; ok {
			patch.Set[f] = v
			continue
		}
		if _, ok := oldVals[f]; ok {
			patch.Unset = append(patch.Unset, f)
		}
	}
	return patch
}

func sameMessaging(a, b task.Messaging) bool {
	return reflect.DeepEqual(a.Values(), b.Values())
}
