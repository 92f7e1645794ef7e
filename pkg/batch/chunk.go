package batch

// Chunks splits items into consecutive slices of at most size elements.
// The last chunk may be shorter. Chunks of a nil or empty slice is nil.
//
// The returned chunks alias the input slice; callers must not mutate the
// input while chunks are in use.
func Chunks[T any](items []T, size int) [][]T {
	if size < 1 || len(items) == 0 {
		return nil
	}

	n := (len(items) + size - 1) / size
	out := make([][]T, 0, n)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
