package transport

import "path/filepath"

// discoverCards enumerates card indexes available for the requested
// kind, for CardRedundant mode. KindGeneric always reports a single
// simulated card; KindCAPI globs the device nodes CAPIHandle opens.
func discoverCards(kind Kind) ([]int, error) {
	if kind != KindCAPI {
		return []int{0}, nil
	}
	matches, err := filepath.Glob("/dev/cxl/afu*.0s")
	if err != nil {
		return nil, err
	}
	indexes := make([]int, len(matches))
	for i := range matches {
		indexes[i] = i
	}
	if len(indexes) == 0 {
		return nil, nil
	}
	return indexes, nil
}
