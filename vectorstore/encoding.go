package vectorstore

import (
	"strconv"
	"strings"
)

// encodeIntsCSV/decodeIntsCSV round-trip turnReferences through
// chromem-go's string-only metadata, matching the string-map conversion
// rag/store/chromem.go performs for arbitrary metadata.
func encodeIntsCSV(xs []int) string {
	if len(xs) == 0 {
		return ""
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}

func decodeIntsCSV(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
