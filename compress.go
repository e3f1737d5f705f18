// Archival compression for the file-backed storage mode.
//
// When archiving is enabled, FileMode.Flush mirrors each flushed
// extent, zstd-compressed, into a sibling ".archive" file. This runs
// inside Flush (and so on the append path of a file-backed table),
// after the optional fsync, and a failure to archive is not fatal to
// the write that triggered it.
package confluo

import (
	"github.com/klauspost/compress/zstd"
)

// Shared encoder/decoder — both are documented as safe for concurrent
// use. Allocated once because zstd encoder/decoder construction is
// expensive (internal state tables). Creating one per bucket would
// dominate the cost of archiving small buckets.
//
// SpeedFastest is deliberate: archiving runs inline with (near) the hot
// Flush path for file-backed mode, while decompression only happens if
// an archived bucket is ever read back, a cold path. Do not change this
// to SpeedDefault without benchmarking flush throughput — the ratio
// gain is marginal for typical bucket sizes but the latency cost is not.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressBucket(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return zstdEncoder.EncodeAll(data, nil)
}

func decompressBucket(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &IOError{Op: "archive-decompress", Err: err}
	}
	return out, nil
}
