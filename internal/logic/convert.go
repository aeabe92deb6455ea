package logic

// Convert maps a raw sample to grams as (raw - offset) / scale, truncating
// toward zero. scale must be non-zero; it is validated when a channel is
// configured, not here.
func Convert(raw, offset, scale int32) int32 {
	return int32((int64(raw) - int64(offset)) / int64(scale))
}
