package filters

import "github.com/wudi/flyerkit/ir/raw"

// ExtractFilters returns the filter chain of a stream dictionary with the
// decode parameters aligned to it. Filters without parameters get nil.
func ExtractFilters(dict raw.Dictionary) ([]string, []raw.Dictionary) {
	names := filterNames(entry(dict, "Filter"))
	if len(names) == 0 {
		return nil, nil
	}
	params := make([]raw.Dictionary, len(names))
	switch p := entry(dict, "DecodeParms").(type) {
	case raw.Dictionary:
		params[0] = p
	case *raw.ArrayObj:
		for i, item := range p.Items {
			if i == len(params) {
				break
			}
			if d, ok := item.(raw.Dictionary); ok {
				params[i] = d
			}
		}
	}
	return names, params
}

func entry(dict raw.Dictionary, key string) raw.Object {
	if dict == nil {
		return nil
	}
	v, _ := dict.Get(raw.NameObj{Val: key})
	return v
}

func filterNames(v raw.Object) []string {
	switch f := v.(type) {
	case raw.Name:
		return []string{f.Value()}
	case *raw.ArrayObj:
		out := make([]string, 0, len(f.Items))
		for _, item := range f.Items {
			if n, ok := item.(raw.Name); ok {
				out = append(out, n.Value())
			}
		}
		return out
	}
	return nil
}
