// Package chunker splits one transfer request into per worker chunks.
package chunker

// PageSize is the granularity floor for the worker count: every worker has to
// touch at least one page of the request.
const PageSize = 4096

// Chunk assigns one worker a contiguous slice of a transfer. FileOffset and
// DeviceOffset advance together; BlockSize bounds the worker's individual
// transfer calls.
type Chunk struct {
	FileOffset   int64
	DeviceOffset int64
	Length       int64
	BlockSize    int64
}

// Workers returns the effective worker count for a transfer of total bytes:
// min(workers, 1+(total-1)/PageSize), never less than one.
func Workers(total int64, workers int) int {
	if workers < 1 {
		return 1
	}
	if total <= 0 {
		return 1
	}
	if pages := 1 + (total-1)/PageSize; pages < int64(workers) {
		return int(pages)
	}
	return workers
}

// Partition splits a transfer of total bytes starting at file offset start
// into chunks for the given worker count. Worker i gets length total/count at
// offset i*(total/count), the last worker additionally gets the remainder, so
// the chunks cover [start, start+total) exactly with no gaps or overlaps.
// blockSize is forwarded to each chunk unchanged.
func Partition(total, start int64, workers int, blockSize int64) []Chunk {
	if total <= 0 {
		return nil
	}
	count := Workers(total, workers)
	base := total / int64(count)
	rem := total % int64(count)
	chunks := make([]Chunk, count)
	for i := range chunks {
		chunks[i] = Chunk{
			FileOffset:   start + int64(i)*base,
			DeviceOffset: int64(i) * base,
			Length:       base,
			BlockSize:    blockSize,
		}
	}
	chunks[count-1].Length += rem
	return chunks
}
