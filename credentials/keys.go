package credentials

import (
	"sort"

	"github.com/jrsteele09/go-session-client/sessionmodel"
)

func keyOf(name string) sessionmodel.Key {
	return sessionmodel.Key(name)
}

func orderedKeys(maps ...map[string]string) []string {
	known := make(map[string]struct{}, len(sessionmodel.AllKeys))
	keys := make([]string, 0, len(sessionmodel.AllKeys))
	for _, k := range sessionmodel.AllKeys {
		known[string(k)] = struct{}{}
		keys = append(keys, string(k))
	}

	var extra []string
	for _, m := range maps {
		for k := range m {
			if _, ok := known[k]; !ok {
				known[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(keys, extra...)
}
