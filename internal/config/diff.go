// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"reflect"
	"sort"
)

// ChangeSummary describes the result of comparing two FileConfigs.
type ChangeSummary struct {
	ChangedFields []string
}

// Diff compares two configurations field-by-field, reporting every changed
// leaf path. Used by the hot-reload watcher to log what changed instead of
// silently swapping the whole struct.
func Diff(oldCfg, newCfg FileConfig) ChangeSummary {
	var summary ChangeSummary
	compareValue("", reflect.ValueOf(oldCfg), reflect.ValueOf(newCfg), &summary)
	sort.Strings(summary.ChangedFields)
	return summary
}

func compareValue(prefix string, oldVal, newVal reflect.Value, summary *ChangeSummary) {
	if oldVal.Kind() != reflect.Struct || newVal.Kind() != reflect.Struct {
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			summary.ChangedFields = append(summary.ChangedFields, prefix)
		}
		return
	}

	t := oldVal.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fieldPath := f.Name
		if prefix != "" {
			fieldPath = prefix + "." + f.Name
		}
		ov, nv := oldVal.Field(i), newVal.Field(i)
		switch ov.Kind() {
		case reflect.Struct:
			compareValue(fieldPath, ov, nv, summary)
		default:
			if !reflect.DeepEqual(ov.Interface(), nv.Interface()) {
				summary.ChangedFields = append(summary.ChangedFields, fieldPath)
			}
		}
	}
}
